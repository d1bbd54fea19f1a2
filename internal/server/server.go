// Package server is the HTTP/JSON and websocket boundary: authentication,
// per-IP rate limiting, and handlers for every endpoint in spec.md §6,
// wired to the matching engine, negotiation ledger, risk engine, durable
// store, and the event bus's websocket fan-out.
package server

import (
	"context"
	"net/http"
	"time"

	"fenrir-perp/internal/agent"
	"fenrir-perp/internal/common"
	"fenrir-perp/internal/eventbus"
	"fenrir-perp/internal/incentives"
	"fenrir-perp/internal/matching"
	"fenrir-perp/internal/negotiation"
	"fenrir-perp/internal/price"
	"fenrir-perp/internal/risk"
	"fenrir-perp/internal/settlement"
	"fenrir-perp/internal/store"
	"fenrir-perp/internal/worker"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// Config mirrors config.ServerConfig; kept local so this package has no
// dependency on the viper-backed config loader.
type Config struct {
	Addr             string
	RateLimitPerMin  int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownDeadline time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		RateLimitPerMin:  100,
		ReadTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ShutdownDeadline: 15 * time.Second,
	}
}

// Deps bundles every collaborator a handler may need. All fields are
// required except Settlement, which is nil when the bridge is disabled.
type Deps struct {
	Agents      *agent.Registry
	Matching    *matching.Engine
	Negotiation *negotiation.Ledger
	Risk        *risk.Engine
	Markets     *common.Registry
	Prices      price.Source
	Bus         *eventbus.Bus
	Store       store.Store
	Leaderboard *incentives.Tracker
	Settlement  *settlement.Client
	// SettlePool fans settlement-bridge notifications out across a small
	// fixed worker pool instead of one goroutine per request; when nil, each
	// notification runs on its own goroutine (settlement stays off only while
	// Settlement is nil).
	SettlePool *worker.Pool
	Clock      common.Clock
}

// Server owns the HTTP listener and the websocket hub built on top of the
// shared event bus.
type Server struct {
	cfg  Config
	deps Deps
	hub  *Hub
	h    *handlers
	http *http.Server
}

func NewServer(cfg Config, deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = common.RealClock{}
	}
	hub := NewHub(deps.Bus)
	h := &handlers{deps: deps}

	limiter := newSlidingWindowLimiter(cfg.RateLimitPerMin, time.Minute, deps.Clock.Now)
	mux := newRouter(h, hub, deps.Agents)

	wrapped := recoverPanic(logRequests(rateLimit(limiter)(mux)))

	return &Server{
		cfg:  cfg,
		deps: deps,
		hub:  hub,
		h:    h,
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      wrapped,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Run starts the listener, the websocket hub's broadcast loop, and (if
// configured) the settlement notification pool, shutting all three down
// gracefully when t starts dying, the same lifecycle shape the teacher's
// net.Server uses around its own listener.
func (s *Server) Run(t *tomb.Tomb) error {
	hubCtx, cancelHub := context.WithCancel(context.Background())
	t.Go(func() error {
		s.hub.Run(hubCtx)
		return nil
	})

	if s.deps.SettlePool != nil {
		s.h.tomb = t
		s.deps.SettlePool.Run(t, s.h.runSettlementJob)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http server starting")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-t.Dying():
	case err := <-errCh:
		cancelHub()
		return err
	}

	cancelHub()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownDeadline)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
		return err
	}
	return nil
}
