// Package n8n forwards CBAM simulation requests to an n8n workflow webhook.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zeroatsteel/zero-agent/internal/domain"
	"github.com/zeroatsteel/zero-agent/internal/observability"
)

// CBAMPath is the webhook path of the CBAM simulation workflow.
const CBAMPath = "/zero-steel/cbam-sim"

// Client implements domain.ReportGenerator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	ext        *observability.ExternalClient
}

// New constructs a client for the n8n instance at baseURL.
func New(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		ext:        observability.NewExternalClient(observability.ConnectionTypeHTTP, baseURL, 90*time.Second),
	}
}

// GenerateCBAM posts the inputs and classifies the workflow's answer.
// Non-2xx answers come back as *domain.UpstreamStatusError.
func (c *Client) GenerateCBAM(ctx context.Context, in domain.CBAMInputs) (domain.ReportResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return domain.ReportResult{}, fmt.Errorf("op=n8n.cbam: %w", err)
	}
	var (
		status int
		data   map[string]any
	)
	err = c.ext.Execute(ctx, observability.OperationTypeRequest, func(callCtx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+CBAMPath, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		status = resp.StatusCode
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		// non-JSON bodies are treated as empty objects
		if json.Unmarshal(b, &data) != nil || data == nil {
			data = map[string]any{}
		}
		return nil
	})
	if err != nil {
		return domain.ReportResult{}, fmt.Errorf("op=n8n.cbam: %w", err)
	}
	if status < 200 || status >= 300 {
		msg, _ := data["error"].(string)
		if msg == "" {
			msg = "n8n_error"
		}
		return domain.ReportResult{}, &domain.UpstreamStatusError{Status: status, Message: msg}
	}
	res := domain.ReportResult{Raw: data}
	res.PDFURL, _ = data["pdf_url"].(string)
	res.PDFBase64, _ = data["pdf_base64"].(string)
	return res, nil
}
