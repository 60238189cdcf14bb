// Package openai adapts the OpenAI Chat Completions and Embeddings APIs to the
// domain ports used by the validator and retrieval.
package openai

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/zeroatsteel/zero-agent/internal/adapter/ai"
	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// DefaultMaxTokens is used when a request leaves MaxTokens unset.
const DefaultMaxTokens = 1024

// Client implements domain.ChatModel and domain.Embedder.
type Client struct {
	caller     *ai.Caller
	baseURL    string
	embedModel string

	mu      sync.Mutex
	clients map[string]*sdk.Client
}

// New builds a client; baseURL may be empty for the public endpoint.
func New(caller *ai.Caller, baseURL, embedModel string) *Client {
	return &Client{caller: caller, baseURL: baseURL, embedModel: embedModel, clients: make(map[string]*sdk.Client)}
}

// Configured reports whether at least one key is pooled.
func (c *Client) Configured() bool { return c.caller.Configured() }

// Chat flattens each message to its first text block, which is all the
// validator and the chat proxy send.
func (c *Client) Chat(ctx domain.Context, req domain.ChatRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, sdk.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == domain.RoleAssistantMsg {
			msgs = append(msgs, sdk.AssistantMessage(m.FirstText()))
		} else {
			msgs = append(msgs, sdk.UserMessage(m.FirstText()))
		}
	}
	params := sdk.ChatCompletionNewParams{
		Model:     sdk.ChatModel(req.Model),
		Messages:  msgs,
		MaxTokens: sdk.Int(int64(maxTokens)),
	}
	return ai.Call(ctx, c.caller, func(ctx domain.Context, key string) (string, error) {
		completion, err := c.client(key).Chat.Completions.New(ctx, params)
		if err != nil {
			return "", classify(err)
		}
		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("%w: no choices returned", domain.ErrProvider)
		}
		return completion.Choices[0].Message.Content, nil
	})
}

// Embed returns one vector per text using the configured embeddings model.
func (c *Client) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.embedModel == "" {
		return nil, fmt.Errorf("%w: EMBEDDINGS_MODEL missing", domain.ErrNotConfigured)
	}
	params := sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: sdk.EmbeddingModel(c.embedModel),
	}
	return ai.Call(ctx, c.caller, func(ctx domain.Context, key string) ([][]float32, error) {
		resp, err := c.client(key).Embeddings.New(ctx, params)
		if err != nil {
			return nil, classify(err)
		}
		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", domain.ErrProvider, len(resp.Data), len(texts))
		}
		out := make([][]float32, len(resp.Data))
		for _, d := range resp.Data {
			if int(d.Index) >= len(out) {
				continue
			}
			v := make([]float32, len(d.Embedding))
			for j, f := range d.Embedding {
				v[j] = float32(f)
			}
			out[d.Index] = v
		}
		slog.Debug("openai embeddings received", slog.Int("count", len(out)))
		return out, nil
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

func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return ai.Classify(apiErr.StatusCode, err)
	}
	return ai.Classify(0, err)
}
