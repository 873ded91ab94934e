// Package http assembles the REST surface: routing, the middleware chain,
// and the translation between service results and wire responses.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"walias/internal/domains"
	"walias/internal/nostrauth"
	"walias/internal/platform/metrics"
	"walias/internal/platform/middleware"
	platformredis "walias/internal/platform/redis"
	"walias/internal/storage"
	"walias/internal/user"
	"walias/internal/walias"
	"walias/internal/wallet"
)

// Deps carries everything the router needs. Redis may be nil when the
// resolve cache is disabled.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Store   storage.Store
	Redis   *platformredis.Client

	Domains  *domains.Service
	Waliases *walias.Service
	Users    *user.Service
	Wallets  *wallet.Service
}

// NewRouter builds the full handler tree. Every route runs behind the
// request-id, recovery, logging, latency, and signed-assertion middleware;
// the assertion middleware attaches a pubkey to the context and the
// handlers decide per-route whether one is required.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Latency(deps.Metrics))
	r.Use(nostrauth.Middleware(deps.Logger, deps.Metrics))

	r.Get("/healthz", healthHandler(deps.Store, deps.Redis))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	NewDomainHandler(deps.Domains, deps.Logger).Register(r)
	NewWaliasHandler(deps.Waliases, deps.Domains, deps.Wallets, deps.Logger).Register(r)
	NewUserHandler(deps.Users, deps.Logger).Register(r)
	NewWalletHandler(deps.Wallets, deps.Logger).Register(r)

	return r
}

// healthHandler reports storage (and, when configured, Redis) liveness.
func healthHandler(store storage.Store, rdb *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "storage unavailable"})
			return
		}
		if rdb != nil {
			if err := rdb.Health(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "redis unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
