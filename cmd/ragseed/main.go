// Command ragseed indexes the YAML knowledge base into the retrieval store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/zeroatsteel/zero-agent/internal/adapter/observability"
	"github.com/zeroatsteel/zero-agent/internal/adapter/repo/postgres"
	"github.com/zeroatsteel/zero-agent/internal/app"
	"github.com/zeroatsteel/zero-agent/internal/config"
	"github.com/zeroatsteel/zero-agent/internal/ragseed"
	"github.com/zeroatsteel/zero-agent/internal/usecase"
)

func main() {
	dir := flag.String("dir", "configs/rag", "directory of YAML seed files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}

	providers := app.NewProviders(cfg)
	if !providers.Validator.Configured() {
		slog.Error("OPENAI_API_KEYS is required for embeddings")
		os.Exit(1)
	}
	vectors, _, err := app.NewVectorStore(cfg, pool)
	if err != nil {
		slog.Error("vector store setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	rag := usecase.RagService{Files: postgres.NewFileRepo(pool), Embedder: providers.Embedder, Vectors: vectors}

	files, chunks, err := ragseed.SeedDir(ctx, rag, *dir)
	if err != nil {
		slog.Error("seeding failed", slog.Any("error", err), slog.Int("files", files))
		os.Exit(1)
	}
	slog.Info("RAG seeds ingested successfully", slog.Int("files", files), slog.Int("chunks", chunks))
}
