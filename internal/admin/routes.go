// Package admin exposes a read/trigger HTTP surface over the stream
// table catalog for operators — health, listing, per-ST history, and a
// manual-refresh trigger — adapted from the teacher's internal/api
// package (SetupRoutes, LoggingMiddleware) with the websocket live-query
// surface (ws.go, live.go) dropped, since nothing in this system streams
// results to a browser client.
package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgtrickle/pgtrickle/internal/catalog"
	"github.com/pgtrickle/pgtrickle/internal/refresh"
)

type handler struct {
	Pool    *pgxpool.Pool
	Streams *catalog.StreamTableRepo
	History *catalog.HistoryRepo
	Engine  *refresh.Engine
}

// SetupRoutes builds the admin HTTP handler. pool is used only for the
// /healthz liveness probe.
func SetupRoutes(pool *pgxpool.Pool, streams *catalog.StreamTableRepo, history *catalog.HistoryRepo, engine *refresh.Engine, logger *zap.Logger) http.Handler {
	h := &handler{Pool: pool, Streams: streams, History: history, Engine: engine}

	r := chi.NewRouter()
	r.Use(loggingMiddleware(logger))

	r.Get("/healthz", h.handleHealthz)
	r.Route("/stream-tables", func(r chi.Router) {
		r.Get("/", h.handleListStreamTables)
		r.Route("/{schema}/{name}", func(r chi.Router) {
			r.Get("/", h.handleGetStreamTable)
			r.Get("/history", h.handleStreamTableHistory)
			r.Post("/refresh", h.handleRefreshStreamTable)
		})
	})

	return r
}
