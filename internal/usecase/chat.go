package usecase

import (
	"fmt"
	"log/slog"

	"github.com/zeroatsteel/zero-agent/internal/adapter/ai"
	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// DefaultChatMaxTokens applies when a proxy request does not set max_tokens.
const DefaultChatMaxTokens = 1024

// ChatProxyRequest is a direct single-call request to one provider.
type ChatProxyRequest struct {
	Messages  []domain.Message `json:"messages"`
	System    string           `json:"system"`
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
}

// ChatReply is a completed proxy call.
type ChatReply struct {
	Text  string
	Model string
}

// ModelFallbackError reports that no candidate model accepted the request.
type ModelFallbackError struct {
	Err       error
	Suggested []string
}

func (e *ModelFallbackError) Error() string { return e.Err.Error() }
func (e *ModelFallbackError) Unwrap() error { return e.Err }

// ChatService proxies one call to a provider, falling back across candidate
// models when the chosen one is rejected.
type ChatService struct {
	Provider   string
	Model      domain.ChatModel
	Candidates []string
	Ready      bool
}

// Complete runs req on the preferred model, or on the first candidate.
func (s ChatService) Complete(ctx domain.Context, req ChatProxyRequest) (ChatReply, error) {
	if !s.Ready {
		return ChatReply{}, fmt.Errorf("%w: %s API key is not set", domain.ErrNotConfigured, s.Provider)
	}
	if len(req.Messages) == 0 {
		return ChatReply{}, fmt.Errorf("%w: messages array is required", domain.ErrInvalidArgument)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultChatMaxTokens
	}
	preferred := SelectModel(req.Model, s.Candidates)
	call := domain.ChatRequest{Model: preferred, System: req.System, Messages: req.Messages, MaxTokens: maxTokens}

	text, firstErr := s.Model.Chat(ctx, call)
	if firstErr == nil {
		return ChatReply{Text: text, Model: preferred}, nil
	}
	if !ai.IsModelNotFound(firstErr) {
		return ChatReply{}, fmt.Errorf("op=chat.%s: %w", s.Provider, firstErr)
	}
	for _, cand := range s.Candidates {
		if cand == preferred {
			continue
		}
		call.Model = cand
		text, err := s.Model.Chat(ctx, call)
		if err == nil {
			slog.InfoContext(ctx, "chat served by fallback model",
				slog.String("provider", s.Provider),
				slog.String("requested", preferred),
				slog.String("model", cand))
			return ChatReply{Text: text, Model: cand}, nil
		}
		if ctx.Err() != nil {
			return ChatReply{}, fmt.Errorf("op=chat.%s: %w", s.Provider, err)
		}
	}
	return ChatReply{}, &ModelFallbackError{
		Err:       fmt.Errorf("op=chat.%s: %w", s.Provider, firstErr),
		Suggested: append([]string(nil), s.Candidates...),
	}
}
