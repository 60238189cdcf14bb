// Command server starts the Zero@AgentAI gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"

	"github.com/zeroatsteel/zero-agent/internal/adapter/abort"
	httpserver "github.com/zeroatsteel/zero-agent/internal/adapter/httpserver"
	"github.com/zeroatsteel/zero-agent/internal/adapter/observability"
	"github.com/zeroatsteel/zero-agent/internal/adapter/queue/redpanda"
	"github.com/zeroatsteel/zero-agent/internal/adapter/reports/n8n"
	"github.com/zeroatsteel/zero-agent/internal/adapter/repo/postgres"
	"github.com/zeroatsteel/zero-agent/internal/adapter/sandbox"
	tikaext "github.com/zeroatsteel/zero-agent/internal/adapter/textextractor/tika"
	"github.com/zeroatsteel/zero-agent/internal/app"
	"github.com/zeroatsteel/zero-agent/internal/config"
	"github.com/zeroatsteel/zero-agent/internal/domain"
	"github.com/zeroatsteel/zero-agent/internal/service/ratelimiter"
	"github.com/zeroatsteel/zero-agent/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Infra: DB pool
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

	sessionRepo := postgres.NewSessionRepo(pool)
	fileRepo := postgres.NewFileRepo(pool)
	alertRepo := postgres.NewAlertRuleRepo(pool)

	cleanupSvc := postgres.NewCleanupService(pool, cfg.RetentionWindow())
	go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
	slog.Info("cleanup service started", slog.Int("retention_days", cfg.RetentionDays), slog.Duration("interval", cfg.CleanupInterval))

	// Redis is optional: abort flags and rate limits stay in process without it.
	var (
		rdb     *redis.Client
		aborts  domain.AbortRegistry = abort.NewMemory()
		limiter ratelimiter.Limiter
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		aborts = abort.NewRedis(rdb, cfg.AbortTTL)
		limiter = ratelimiter.NewRedisLuaLimiter(rdb, ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimit()))
		slog.Info("redis enabled for abort flags and rate limits")
	}

	// Audit sink: Redpanda when brokers are configured, the log otherwise.
	audit := usecase.AuditService{}
	var auditProducer *redpanda.Producer
	if len(cfg.KafkaBrokers) > 0 {
		auditProducer, err = redpanda.NewProducer(ctx, cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			slog.Error("redpanda producer connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := auditProducer.Close(); err != nil {
				slog.Error("failed to close audit producer", slog.Any("error", err))
			}
		}()
		audit.Sink = auditProducer
	}

	providers := app.NewProviders(cfg)
	vectors, qcli, err := app.NewVectorStore(cfg, pool)
	if err != nil {
		slog.Error("vector store setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	var extractor domain.TextExtractor
	var tika *tikaext.Client
	if cfg.TikaURL != "" {
		tika = tikaext.New(cfg.TikaURL)
		extractor = tika
	}

	assembler := usecase.ContextAssembler{
		Files:     fileRepo,
		Embedder:  providers.Embedder,
		Vectors:   vectors,
		FileLimit: cfg.FileContextLimit(),
	}
	pipeline := usecase.PipelineService{
		Loop:            app.NewLoop(providers),
		Assembler:       assembler,
		Sessions:        sessionRepo,
		Aborts:          aborts,
		Audit:           audit,
		PrimaryModels:   cfg.PrimaryModels,
		ValidatorModels: cfg.ValidatorModels,
		PrimaryReady:    providers.Primary.Configured(),
		ValidatorReady:  providers.Validator.Configured(),
	}

	reports := usecase.ReportService{Dir: cfg.ReportsDir}
	if cfg.N8NURL != "" {
		reports.Generator = n8n.New(cfg.N8NURL)
	}

	var runner *sandbox.Runner
	if cfg.TerminalEnabled {
		runner, err = sandbox.NewRunner(cfg.SandboxDir, cfg.TerminalTimeout, cfg.TerminalOutputLimit())
		if err != nil {
			slog.Error("sandbox setup failed; terminal disabled", slog.Any("error", err))
		}
	}

	deps := app.ReadinessDeps{DB: pool}
	if rdb != nil {
		deps.Redis = rdb
	}
	if qcli != nil {
		deps.Qdrant = qcli
	}
	if tika != nil {
		deps.Tika = tika
	}
	if auditProducer != nil {
		deps.Audit = auditProducer
	}

	srv := &httpserver.Server{
		Cfg:      cfg,
		Pipeline: pipeline,
		Chat: usecase.ChatService{
			Provider:   "anthropic",
			Model:      providers.Primary,
			Candidates: cfg.PrimaryModels,
			Ready:      providers.Primary.Configured(),
		},
		OpenAIChat: usecase.ChatService{
			Provider:   "openai",
			Model:      providers.Validator,
			Candidates: cfg.ValidatorModels,
			Ready:      providers.Validator.Configured(),
		},
		Sessions: usecase.NewSessionService(sessionRepo),
		Files:    usecase.NewFileService(fileRepo, extractor, cfg.MaxFileBytes()),
		Rag:      usecase.RagService{Files: fileRepo, Embedder: providers.Embedder, Vectors: vectors},
		Alerts:   usecase.AlertService{Repo: alertRepo},
		Audit:    audit,
		Reports:  reports,
		Terminal: runner,
		Checks:   app.BuildReadinessChecks(deps),
		Started:  time.Now(),
	}

	auth := httpserver.NewAuthenticator(cfg.APIKeys, cfg.SupabaseJWTSecret)
	if auth.Open() {
		slog.Warn("no API_KEYS or SUPABASE_JWT_SECRET configured; any token is accepted with role user")
	}
	handler := app.BuildRouter(cfg, srv, auth, limiter)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: event streams stay open for the whole run.
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port), slog.String("vector_backend", cfg.VectorBackend))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	stop()
}
