package app

import (
	"fmt"
	"log/slog"
	"strings"

	ai "github.com/zeroatsteel/zero-agent/internal/adapter/ai"
	"github.com/zeroatsteel/zero-agent/internal/adapter/ai/anthropic"
	"github.com/zeroatsteel/zero-agent/internal/adapter/ai/keypool"
	"github.com/zeroatsteel/zero-agent/internal/adapter/ai/openai"
	"github.com/zeroatsteel/zero-agent/internal/adapter/ai/tokencount"
	"github.com/zeroatsteel/zero-agent/internal/adapter/repo/postgres"
	qdrantcli "github.com/zeroatsteel/zero-agent/internal/adapter/vector/qdrant"
	"github.com/zeroatsteel/zero-agent/internal/config"
	"github.com/zeroatsteel/zero-agent/internal/domain"
	"github.com/zeroatsteel/zero-agent/internal/usecase"
)

// Vector backends.
const (
	VectorBackendPostgres = "postgres"
	VectorBackendQdrant   = "qdrant"
)

// Providers holds the model clients. Each owns its key pool and caller, so
// rotation and concurrency admission are shared by every request.
type Providers struct {
	Primary   *anthropic.Client
	Validator *openai.Client
	// Embedder is the validator client behind a process-local cache.
	Embedder domain.Embedder
}

// NewProviders builds both provider clients from the weighted key lists.
func NewProviders(cfg config.Config) Providers {
	primaryPool := keypool.New(cfg.AnthropicAPIKeys)
	validatorPool := keypool.New(cfg.OpenAIAPIKeys)
	slog.Info("provider key pools loaded",
		slog.Int("primary_slots", primaryPool.Len()),
		slog.Int("validator_slots", validatorPool.Len()))

	primary := anthropic.New(ai.NewCaller("anthropic", primaryPool, cfg.ClaudeMaxConcurrency, cfg.Backoff(), cfg.ProviderCallTimeout), cfg.AnthropicBaseURL)
	validator := openai.New(ai.NewCaller("openai", validatorPool, cfg.OpenAIMaxConcurrency, cfg.Backoff(), cfg.ProviderCallTimeout), cfg.OpenAIBaseURL, cfg.EmbeddingsModel)
	return Providers{
		Primary:   primary,
		Validator: validator,
		Embedder:  ai.NewEmbedCache(validator, cfg.EmbedCacheSize),
	}
}

// NewVectorStore selects the retrieval backend. The Qdrant client is returned
// for readiness probing and is nil for the Postgres backend.
func NewVectorStore(cfg config.Config, pool postgres.PgxPool) (domain.VectorStore, *qdrantcli.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.VectorBackend)) {
	case "", VectorBackendPostgres:
		return postgres.NewRagStore(pool), nil, nil
	case VectorBackendQdrant:
		if cfg.QdrantURL == "" {
			return nil, nil, fmt.Errorf("%w: QDRANT_URL is required for the qdrant backend", domain.ErrNotConfigured)
		}
		cli := qdrantcli.New(cfg.QdrantURL, cfg.QdrantAPIKey)
		return qdrantcli.NewStore(cli, cfg.QdrantCollection, cfg.EmbeddingDims), cli, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown VECTOR_BACKEND %q", domain.ErrInvalidArgument, cfg.VectorBackend)
	}
}

// NewLoop builds the generate-validate loop over the provider clients.
func NewLoop(p Providers) usecase.Loop {
	loop := usecase.NewLoop(p.Primary, p.Validator)
	loop.Tokens = tokencount.NewCounter()
	return loop
}
