// Package ops serves the operations endpoints: /metrics, /healthz and,
// when enabled, /debug/pprof/.
//
// Bind it to localhost; nothing here is authenticated.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"voxrelay/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9090"

type Config struct {
	Enabled     bool
	Addr        string
	Pprof       bool
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Minute
	}
	return c
}

// HealthFunc reports component health by name; a non-nil error marks the
// component unhealthy.
type HealthFunc func(ctx context.Context) map[string]error

// Server manages the lifecycle of the ops listener. Apply may be called on
// every config reload.
type Server struct {
	log     logx.Logger
	metrics http.Handler
	health  HealthFunc

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
	cfg  Config
}

func New(metrics http.Handler, health HealthFunc, log logx.Logger) *Server {
	return &Server{metrics: metrics, health: health, log: log.With(logx.Component("ops"))}
}

// Apply starts, restarts or stops the server according to cfg.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && s.cfg == cfg {
		return nil
	}
	s.stopLocked(ctx)
	return s.startLocked(cfg)
}

func (s *Server) Handler(pprofOn bool) http.Handler {
	mux := http.NewServeMux()
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/healthz", s.serveHealth)
	if pprofOn {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, err := range s.health(ctx) {
			if err != nil {
				body[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			body[name] = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) startLocked(cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(cfg.Pprof),
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	s.srv, s.ln, s.cfg = srv, ln, cfg
	s.addr = ln.Addr().String()

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("ops server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("ops server started", logx.String("addr", addr), logx.Bool("pprof", cfg.Pprof))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, addr := s.srv, s.addr
	s.srv, s.ln, s.addr, s.cfg = nil, nil, "", Config{}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("ops server shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	s.log.Info("ops server stopped", logx.String("addr", addr))
}

// Addr reports the listen address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
