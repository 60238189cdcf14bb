package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/zeroatsteel/zero-agent/internal/adapter/httpserver"
	"github.com/zeroatsteel/zero-agent/internal/adapter/observability"
	"github.com/zeroatsteel/zero-agent/internal/config"
	"github.com/zeroatsteel/zero-agent/internal/service/ratelimiter"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// limiter may be nil, in which case rate limits are kept in process.
func BuildRouter(cfg config.Config, srv *httpserver.Server, auth *httpserver.Authenticator, limiter ratelimiter.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(httpserver.SecurityHeaders(cfg.FrameAncestors))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(httpserver.Auth(auth))
		api.Use(httpserver.RateLimit(cfg.RateLimit(), limiter))

		// Event streams outlive any request deadline.
		api.Get("/pipeline/stream", srv.StreamHandler())

		api.Group(func(g chi.Router) {
			g.Use(httpserver.TimeoutMiddleware(cfg.RequestTimeout))

			g.Get("/models", srv.ModelsHandler())
			g.Get("/openai/models", srv.OpenAIModelsHandler())
			g.Get("/me", srv.MeHandler())

			g.Post("/actions/log", srv.ActionLogHandler())
			g.Post("/auto/cbam-report", srv.AutoCBAMReportHandler())
			g.Post("/auto/open-batch", srv.OpenBatchHandler())

			g.Post("/reports/cbam", srv.ReportCBAMHandler())
			g.Get("/reports/file/{name}", srv.ReportFileHandler())

			g.Get("/alert-rules", srv.AlertRulesListHandler())
			g.Post("/alert-rules", srv.AlertRuleUpsertHandler())
			g.Delete("/alert-rules/{id}", srv.AlertRuleDeleteHandler())

			g.Post("/rag/index", srv.RagIndexHandler())
			g.Post("/rag/query", srv.RagQueryHandler())

			g.Post("/chat", srv.ChatHandler())
			g.Post("/chat/cancel", srv.CancelHandler())
			g.Post("/openai/chat", srv.OpenAIChatHandler())
			g.Post("/pipeline", srv.PipelineHandler())

			g.Post("/terminal/exec", srv.TerminalHandler())

			g.Post("/session/save", srv.SessionSaveHandler())
			g.Get("/session/list", srv.SessionListHandler())
			g.Get("/session/{id}", srv.SessionGetHandler())

			g.Post("/files/save", srv.FileSaveHandler())
			g.Get("/files/list", srv.FileListHandler())
			g.Get("/files/{id}", srv.FileGetHandler())
		})
	})
	return r
}
