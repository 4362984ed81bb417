package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/k8s-conductor/pkg/election"
	"github.com/telekom/k8s-conductor/pkg/initialized"
	"github.com/telekom/k8s-conductor/pkg/metrics"
	"github.com/telekom/k8s-conductor/pkg/ratelimit"
	"github.com/telekom/k8s-conductor/pkg/system"
)

const (
	// DefaultAddr is the bind address used when none is configured.
	DefaultAddr = ":8081"

	// shutdownGrace bounds how long Run waits for in-flight requests
	// once the context is cancelled.
	shutdownGrace = 5 * time.Second
)

// Options configures the admin server.
type Options struct {
	// Addr is the TCP address to listen on, defaulting to DefaultAddr.
	Addr string

	// Debug switches gin into debug mode and enables verbose request logs.
	Debug bool

	// RateLimit tunes the per-client limiter. The zero value selects
	// ratelimit.DefaultAdminConfig.
	RateLimit ratelimit.Config
}

// Server exposes probe, metrics and election diagnostics endpoints over a
// single HTTP listener. It is safe for concurrent use.
type Server struct {
	log     *zap.SugaredLogger
	engine  *gin.Engine
	srv     *http.Server
	limiter *ratelimit.Limiter
	ready   *initialized.Set

	mu       sync.Mutex
	ln       net.Listener
	electors map[string]*election.Elector
}

// New builds the admin server and wires all routes. The ready set drives
// the /readyz probe; pass an empty set if the process has no startup
// dependencies.
func New(opts Options, ready *initialized.Set, log *zap.SugaredLogger) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.RateLimit == (ratelimit.Config{}) {
		opts.RateLimit = ratelimit.DefaultAdminConfig()
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	log = log.Named("admin")
	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log.Desugar(), time.RFC3339, true),
		ginzap.RecoveryWithZap(log.Desugar(), true),
	)

	s := &Server{
		log:      log,
		engine:   engine,
		limiter:  ratelimit.New(opts.RateLimit),
		ready:    ready,
		electors: make(map[string]*election.Elector),
	}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Probes are exercised by the kubelet at a fixed cadence and must not
	// be throttled alongside client traffic.
	engine.Use(s.limiter.MiddlewareWithExclusions([]string{"/livez", "/readyz"}))
	engine.Use(s.requestLogger())

	engine.GET("/livez", s.livez)
	engine.GET("/readyz", s.readyz)
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))
	engine.GET("/debug/election", s.debugElection)

	return s
}

// RegisterElector adds an elector to the /debug/election listing. Electors
// registered under the same name/namespace pair replace each other.
func (s *Server) RegisterElector(e *election.Elector) {
	cfg := e.Config()
	key := cfg.Namespace + "/" + cfg.Name

	s.mu.Lock()
	defer s.mu.Unlock()
	s.electors[key] = e
}

// requestLogger attaches a request-scoped logger to the gin context so
// handlers can emit correlated log lines.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(system.ReqLoggerKey, s.log.With(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		))
		c.Next()
	}
}

func (s *Server) livez(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	if s.ready.Ready() {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	pending := s.ready.Pending()
	system.GetReqLogger(c, s.log).Debugw("Readiness probe failed", "pending", pending)
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"status":  "pending",
		"pending": pending,
	})
}

func (s *Server) debugElection(c *gin.Context) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.electors))
	for k := range s.electors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snaps := make([]election.Snapshot, 0, len(keys))
	for _, k := range keys {
		snaps = append(snaps, s.electors[k].Snapshot())
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"elections": snaps})
}

// Start binds the listener and begins serving in the background. It returns
// an error only when the address cannot be bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", s.srv.Addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.log.Infow("Admin server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("Admin server failed", "error", err)
		}
	}()
	return nil
}

// Addr reports the bound listener address. Before Start it returns the
// configured address, which is useful when binding to an ephemeral port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.srv.Addr
}

// Shutdown stops accepting connections and waits for in-flight requests to
// finish, bounded by ctx. The rate limiter's janitor is stopped as well.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Stop()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	s.log.Infow("Admin server stopped")
	return nil
}

// Run starts the server and blocks until ctx is cancelled, then drains
// in-flight requests within a bounded grace period.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}
