// Package server provides the HTTP ingest endpoint of the aggregator.
//
// Workers POST batches to "/" (or /api/v1/batches). Each accepted batch is
// merged into the Store and answered with the new grand total. Read-only
// endpoints expose the total, the encoded snapshot, ingest statistics, a
// Parquet export and a websocket feed of merge updates.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xtxerr/pick9/config"
	"github.com/xtxerr/pick9/internal/logging"
	"github.com/xtxerr/pick9/internal/storage"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

var log = logging.Component("server")

// =============================================================================
// Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Store receives accepted batches (required).
	Store *storage.Store

	// Listen is the address to listen on (e.g., "0.0.0.0:8000").
	Listen string

	// MaxBodyBytes limits a single submission.
	MaxBodyBytes int64

	// MaxInFlight caps concurrent submissions.
	MaxInFlight int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DrainTimeout bounds Shutdown.
	DrainTimeout time.Duration
}

// =============================================================================
// Server
// =============================================================================

// Server is the aggregator's HTTP front end.
type Server struct {
	cfg   *Config
	store *storage.Store

	engine   *gin.Engine
	http     *http.Server
	inFlight *semaphore.Weighted
	flight   singleflight.Group
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New creates a new server.
func New(cfg *Config) *Server {
	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = config.DefaultMaxInFlight
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = config.DefaultDrainTimeout
	}

	s := &Server{
		cfg:      cfg,
		store:    cfg.Store,
		inFlight: semaphore.NewWeighted(cfg.MaxInFlight),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		shutdown: make(chan struct{}),
	}

	s.engine = s.routes()
	s.http = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), requestLogger(), recovery())

	// Legacy workers post to the root path.
	r.POST("/", s.handleIngest)
	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api/v1")
	{
		api.POST("/batches", s.handleIngest)
		api.GET("/total", s.handleTotal)
		api.GET("/snapshot", s.handleSnapshot)
		api.GET("/stats", s.handleStats)
		api.GET("/export", s.handleExport)
		api.GET("/ws", s.handleFeed)
	}

	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on cfg.Listen and serves until Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.Info("listening", "address", ln.Addr().String())

	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Addr returns the listen address once Serve has started, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting requests and waits up to DrainTimeout for
// in-flight submissions. Open feeds are closed with a going-away message.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		log.Info("shutting down", "drain_timeout", s.cfg.DrainTimeout)
		close(s.shutdown)

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
		defer cancel()

		if err = s.http.Shutdown(ctx); err != nil {
			log.Warn("drain timed out, closing connections", "error", err)
			s.http.Close()
		}

		log.Info("shutdown complete")
	})
	return err
}

// draining reports whether Shutdown has started.
func (s *Server) draining() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}
