package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jwebster45206/dungeon-ledger/internal/services"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/roster"
	"github.com/jwebster45206/dungeon-ledger/pkg/session"
)

// Deps are the components the HTTP API serves.
type Deps struct {
	Roster         *roster.Roster
	Sessions       *session.Manager
	Ledger         ledger.Ledger
	Cache          services.Cache // nil when Redis is not configured
	Metrics        http.Handler   // optional
	DefaultOwner   string
	TurnsPerMinute int
}

func NewRouter(deps Deps, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.Cache, deps.Ledger, logger))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	characters := NewCharacterHandler(deps.Roster, deps.DefaultOwner, logger)
	sessions := NewSessionHandler(deps.Roster, deps.Sessions, deps.TurnsPerMinute, logger)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/characters", characters.Routes)
		r.Route("/sessions", sessions.Routes)
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("Request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
