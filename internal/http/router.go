package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/agustinlozano/ur-partner-realtime/internal/app"
	"github.com/agustinlozano/ur-partner-realtime/pkg/metrics"
)

// Probe is one dependency checked by /readyz
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	WS      http.Handler // nil when a managed gateway owns the sockets
	Gateway *GatewayAPI  // nil when sockets are served locally
	Rooms   *RoomsAPI
	Probes  []Probe
}

// NewRouter wires up all HTTP routes, middleware, and handlers.
// Browser-facing routes sit behind CORS and the per-IP limit; gateway
// callbacks all come from the gateway's few addresses, so they only need auth.
func NewRouter(cfg app.Config, logger *slog.Logger, d Deps) http.Handler {
	mw := NewMiddleware(cfg)
	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))
	mux.Handle("GET /readyz", readyz(logger, d.Probes))
	mux.Handle("GET /metrics", metrics.Handler())

	if d.WS != nil {
		mux.Handle("GET /ws", d.WS)
	}
	if d.Rooms != nil {
		mux.Handle("GET /api/rooms/{id}", mw.Auth(http.HandlerFunc(d.Rooms.Get)))
	}

	root := http.NewServeMux()
	root.Handle("/", mw.Wrap(mux)) // CORS + rate limit
	if d.Gateway != nil {
		root.Handle("POST /gateway/connect", mw.Auth(http.HandlerFunc(d.Gateway.Connect)))
		root.Handle("POST /gateway/disconnect", mw.Auth(http.HandlerFunc(d.Gateway.Disconnect)))
		root.Handle("POST /gateway/message", mw.Auth(http.HandlerFunc(d.Gateway.Message)))
	}
	return root
}

func readyz(logger *slog.Logger, probes []Probe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, p := range probes {
			if err := p.Check(ctx); err != nil {
				logger.Warn("readyz.failed", "probe", p.Name, "err", err)
				http.Error(w, p.Name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}
