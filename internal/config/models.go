package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelCatalog is the YAML layout of MODELS_FILE.
//
//	primary:
//	  - claude-3-5-haiku-latest
//	validator:
//	  - gpt-4o-mini
//	embeddings: text-embedding-3-small
type ModelCatalog struct {
	Primary    []string `yaml:"primary"`
	Validator  []string `yaml:"validator"`
	Embeddings string   `yaml:"embeddings"`
}

// LoadModelCatalog reads and validates a model catalog file.
func LoadModelCatalog(path string) (ModelCatalog, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return ModelCatalog{}, fmt.Errorf("read models file: %w", err)
	}
	var cat ModelCatalog
	if err := yaml.Unmarshal(b, &cat); err != nil {
		return ModelCatalog{}, fmt.Errorf("yaml parse: %w", err)
	}
	cat.Primary = compact(cat.Primary)
	cat.Validator = compact(cat.Validator)
	if len(cat.Primary) == 0 && len(cat.Validator) == 0 {
		return ModelCatalog{}, fmt.Errorf("models file %s lists no models", path)
	}
	return cat, nil
}

func (m ModelCatalog) apply(cfg *Config) {
	if len(m.Primary) > 0 {
		cfg.PrimaryModels = m.Primary
	}
	if len(m.Validator) > 0 {
		cfg.ValidatorModels = m.Validator
	}
	if s := strings.TrimSpace(m.Embeddings); s != "" {
		cfg.EmbeddingsModel = s
	}
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
