// SPDX-License-Identifier: MIT

// Package api exposes the authorization facade over HTTP for edge
// gateways. Every decision route answers 200 with a decision body, allow
// or deny; HTTP status codes carry transport problems only.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/reelverse/edgeauth/internal/config"
	"github.com/reelverse/edgeauth/internal/edge"
	"github.com/reelverse/edgeauth/internal/health"
	xglog "github.com/reelverse/edgeauth/internal/log"
)

// Rate limits for the decision routes. The per-IP window protects against
// a single misbehaving gateway node; the global bucket protects the
// process.
const (
	perIPRequestLimit = 300
	perIPWindow       = time.Minute
	globalRPS         = 500
	globalBurst       = 100
)

// Server is the HTTP surface over the edge service.
type Server struct {
	cfg           config.Config
	svc           *edge.Service
	healthManager *health.Manager
	logger        zerolog.Logger
}

// NewServer builds the server and registers the component health checkers.
func NewServer(cfg config.Config, svc *edge.Service, version string) *Server {
	s := &Server{
		cfg:           cfg,
		svc:           svc,
		healthManager: health.NewManager(version),
		logger:        xglog.WithComponent("api"),
	}

	s.healthManager.RegisterChecker(health.CheckerFunc{
		CheckerName: "sla",
		Fn: func(context.Context) health.CheckResult {
			snap := svc.SLA().Snapshot()
			if !svc.SLA().Healthy() {
				return health.CheckResult{
					Status:  health.StatusDegraded,
					Message: fmt.Sprintf("p95 %s exceeds budget", snap.P95),
				}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		},
	})
	s.healthManager.RegisterChecker(health.CheckerFunc{
		CheckerName: "authorization_cache",
		Fn: func(context.Context) health.CheckResult {
			decisions, _ := svc.CacheSizes()
			if cfg.MaxCacheSize > 0 && decisions*10 >= cfg.MaxCacheSize*9 {
				return health.CheckResult{
					Status:  health.StatusDegraded,
					Message: fmt.Sprintf("%d of %d entries used", decisions, cfg.MaxCacheSize),
				}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		},
	})
	return s
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(recoverer)
	r.Use(requestID)
	r.Use(tracing("edgeauth"))
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(globalRateLimit(globalRPS, globalBurst))
		r.Use(perIPRateLimit(perIPRequestLimit, perIPWindow))

		r.Post("/authorize/segment", s.handleAuthorizeSegment)
		r.Post("/authorize/manifest", s.handleAuthorizeManifest)
		r.Post("/keytoken", s.handleIssueKeyToken)
		r.Post("/invalidate", s.handleInvalidate)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
