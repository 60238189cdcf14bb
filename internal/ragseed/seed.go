// Package ragseed loads knowledge-base documents from YAML files into the
// retrieval index.
//
// A seed file holds an optional title and any of three text lists:
//
//	title: CBAM basics
//	items: ["..."]
//	texts: ["..."]
//	data:
//	  - text: "..."
//	    section: tariffs
//
// Items and texts become one document titled by the file; data entries are
// grouped into one document per section. A bare YAML list of strings is also
// accepted.
package ragseed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zeroatsteel/zero-agent/internal/usecase"
)

// Indexer is the part of the retrieval service used for seeding.
type Indexer interface {
	Index(ctx context.Context, in usecase.RagIndexInput) (string, int, error)
}

type ragYAML struct {
	Title string        `yaml:"title"`
	Items []string      `yaml:"items"`
	Texts []string      `yaml:"texts"`
	Data  []ragYAMLItem `yaml:"data"`
}

type ragYAMLItem struct {
	Text    string `yaml:"text"`
	Section string `yaml:"section"`
}

// Load parses a seed file into index requests.
func Load(path string) ([]usecase.RagIndexInput, error) {
	abs, err := allowedPath(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("seed file not found: %s", path)
		}
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var doc ragYAML
	if err := yaml.Unmarshal(b, &doc); err != nil {
		// Fallback: try simple list of strings
		var ls []string
		if err2 := yaml.Unmarshal(b, &ls); err2 != nil {
			return nil, fmt.Errorf("yaml parse: %w", err)
		}
		doc = ragYAML{Items: ls}
	}
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = base
	}

	seen := make(map[string]struct{})
	fresh := func(s string) bool {
		s = strings.TrimSpace(s)
		if s == "" {
			return false
		}
		if _, ok := seen[s]; ok {
			return false
		}
		seen[s] = struct{}{}
		return true
	}

	// Sectioned data first so duplicates keep their section.
	sections := map[string][]string{}
	for _, it := range doc.Data {
		if fresh(it.Text) {
			sections[strings.TrimSpace(it.Section)] = append(sections[strings.TrimSpace(it.Section)], strings.TrimSpace(it.Text))
		}
	}
	var plain []string
	for _, s := range append(append([]string{}, doc.Items...), doc.Texts...) {
		if fresh(s) {
			plain = append(plain, strings.TrimSpace(s))
		}
	}

	var out []usecase.RagIndexInput
	if len(plain) > 0 {
		sections[""] = append(plain, sections[""]...)
	}
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := title
		if name != "" {
			t = title + " / " + name
		}
		out = append(out, usecase.RagIndexInput{Title: t, Text: strings.Join(sections[name], "\n\n")})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no texts to seed in %s", path)
	}
	return out, nil
}

// SeedFile indexes every document of one seed file and returns the chunk count.
func SeedFile(ctx context.Context, idx Indexer, path string) (int, error) {
	docs, err := Load(path)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, d := range docs {
		id, n, err := idx.Index(ctx, d)
		if err != nil {
			return total, fmt.Errorf("index %q: %w", d.Title, err)
		}
		slog.InfoContext(ctx, "seeded document", slog.String("id", id), slog.String("title", d.Title), slog.Int("chunks", n))
		total += n
	}
	return total, nil
}

// SeedDir seeds every .yaml and .yml file in dir, in name order.
func SeedDir(ctx context.Context, idx Indexer, dir string) (files, chunks int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("read seed dir: %w", err)
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		n, err := SeedFile(ctx, idx, filepath.Join(dir, e.Name()))
		if err != nil {
			return files, chunks, err
		}
		files++
		chunks += n
	}
	return files, chunks, nil
}

// allowedPath constrains seed files to the working directory unless
// RAGSEED_ALLOW_ABSPATHS=1.
func allowedPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)
	if os.Getenv("RAGSEED_ALLOW_ABSPATHS") == "1" {
		return abs, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	wd = filepath.Clean(wd)
	if !strings.HasPrefix(abs, wd+string(os.PathSeparator)) && abs != wd {
		return "", fmt.Errorf("disallowed path: %s", abs)
	}
	return abs, nil
}
