// Package anthropic adapts the Anthropic Messages API to domain.ChatModel.
package anthropic

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/zeroatsteel/zero-agent/internal/adapter/ai"
	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// DefaultMaxTokens is used when a request leaves MaxTokens unset.
const DefaultMaxTokens = 1024

// Client is the primary model. Every call goes through the shared caller so
// credentials rotate and back off per key.
type Client struct {
	caller  *ai.Caller
	baseURL string

	mu      sync.Mutex
	clients map[string]*sdk.Client
}

// New builds a client; baseURL may be empty for the public endpoint.
func New(caller *ai.Caller, baseURL string) *Client {
	return &Client{caller: caller, baseURL: baseURL, clients: make(map[string]*sdk.Client)}
}

// Configured reports whether at least one key is pooled.
func (c *Client) Configured() bool { return c.caller.Configured() }

// Chat sends one Messages request and returns the concatenated text blocks.
func (c *Client) Chat(ctx domain.Context, req domain.ChatRequest) (string, error) {
	params := buildParams(req)
	return ai.Call(ctx, c.caller, func(ctx domain.Context, key string) (string, error) {
		msg, err := c.client(key).Messages.New(ctx, params)
		if err != nil {
			return "", classify(err)
		}
		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		slog.Debug("anthropic response received",
			slog.String("model", req.Model),
			slog.Int("content_length", sb.Len()))
		return sb.String(), nil
	})
}

func (c *Client) client(key string) *sdk.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[key]; ok {
		return cl
	}
	opts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	cl := sdk.NewClient(opts...)
	c.clients[key] = &cl
	return &cl
}

func buildParams(req domain.ChatRequest) sdk.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	return params
}

func convertMessages(msgs []domain.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch {
			case b.Type == domain.BlockImage && b.Source != nil:
				blocks = append(blocks, sdk.NewImageBlockBase64(b.Source.MediaType, b.Source.Data))
			case b.Text != "":
				blocks = append(blocks, sdk.NewTextBlock(b.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == domain.RoleAssistantMsg {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return ai.Classify(apiErr.StatusCode, err)
	}
	return ai.Classify(0, err)
}
