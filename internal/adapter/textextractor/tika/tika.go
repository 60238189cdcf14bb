// Package tika extracts plain text from documents through an Apache Tika server.
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeroatsteel/zero-agent/internal/observability"
	"github.com/zeroatsteel/zero-agent/pkg/textx"
)

const defaultBaseURL = "http://localhost:9998"

// Client performs PUT /tika with Accept: text/plain. It implements domain.TextExtractor.
type Client struct {
	baseURL    string
	httpClient *http.Client
	ext        *observability.ExternalClient
}

// New constructs a Tika client. An empty baseURL targets a local server.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		ext:        observability.NewExternalClient(observability.ConnectionTypeTika, baseURL, 60*time.Second),
	}
}

// Extract sends data to Tika and returns its text with whitespace collapsed.
func (c *Client) Extract(ctx context.Context, fileName string, data []byte) (string, error) {
	var result string
	err := c.ext.Execute(ctx, observability.OperationTypeExtract, func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPut, c.baseURL+"/tika", bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "text/plain")
		if ct := contentTypeFromExt(filepath.Ext(fileName)); ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("tika status %d", resp.StatusCode)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		result = strings.Join(strings.Fields(textx.SanitizeText(string(b))), " ")
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("op=tika.extract: %w", err)
	}
	return result, nil
}

// Ping checks that the server answers GET /version.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/version", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tika status %d", resp.StatusCode)
	}
	return nil
}

func contentTypeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case "":
		return ""
	default:
		return mime.TypeByExtension(ext)
	}
}
