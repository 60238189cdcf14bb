// Package tokencount estimates prompt sizes for model calls.
//
// It uses tiktoken-go, a Go port of OpenAI's tiktoken library. Claude models
// tokenize differently; cl100k_base is close enough for sizing prompts.
package tokencount

import (
	"strings"
	"sync"

	"log/slog"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// Counter provides thread-safe token counting for LLM models.
type Counter struct {
	encodingCache map[string]*tiktoken.Tiktoken
	mu            sync.RWMutex
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{
		encodingCache: make(map[string]*tiktoken.Tiktoken),
	}
}

// DefaultCounter is a global token counter instance.
var DefaultCounter = NewCounter()

func (c *Counter) getEncodingForModel(model string) (*tiktoken.Tiktoken, error) {
	normalizedModel := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[normalizedModel]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodingCache[normalizedModel]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(normalizedModel)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model),
			slog.String("normalized", normalizedModel),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	c.encodingCache[normalizedModel] = enc
	return enc, nil
}

// normalizeModelName maps model IDs onto names tiktoken knows.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)
	switch {
	case strings.Contains(model, "gpt-4o"), strings.Contains(model, "gpt-4.1"):
		return "gpt-4o"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		// claude-* and unknown families
		return "gpt-4"
	}
}

// CountTokens counts the number of tokens in a text string for a given model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountConversation sizes a system prompt plus conversation, adding the
// per-message framing overhead of chat APIs. Image blocks count as zero.
// When no encoding can be loaded it falls back to four characters per token.
func (c *Counter) CountConversation(system string, msgs []domain.Message, model string) int {
	const (
		tokensPerMessage = 3
		replyPrimer      = 3
	)
	enc, err := c.getEncodingForModel(model)
	count := func(s string) int {
		if err != nil {
			return len(s) / 4
		}
		return len(enc.Encode(s, nil, nil))
	}

	n := replyPrimer
	if system != "" {
		n += tokensPerMessage + count("system") + count(system)
	}
	for _, m := range msgs {
		n += tokensPerMessage + count(m.Role) + count(m.Text())
	}
	if err != nil {
		slog.Warn("token count estimated", slog.String("model", model), slog.Any("error", err))
	}
	return n
}

// CountTokensDefault uses the default counter to count tokens.
func CountTokensDefault(text, model string) (int, error) {
	return DefaultCounter.CountTokens(text, model)
}
