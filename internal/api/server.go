// Package api wires the RPC servicer described in SPEC_FULL.md §1 onto a
// gin.Engine: the public key-value surface, the peer-only internal surface
// that applies replicated mutations without re-triggering replication, and
// the ambient health/metrics endpoints.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"kvnode/internal/metrics"
	"kvnode/internal/replication"
	"kvnode/internal/worker"
)

// Server owns the HTTP listener and the node's INIT → LISTENING → DRAINING →
// STOPPED lifecycle (spec.md §5).
type Server struct {
	handler *Handler
	http    *http.Server
	logger  zerolog.Logger
}

// New builds a Server bound to addr (host:port — spec.md §4.4 binds
// loopback only, never all interfaces), with routes registered against pool
// and repl. backupDir is the default destination Backup uses when a
// request omits one.
func New(addr string, pool *worker.Pool, repl *replication.Manager, backupDir string, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(Logger(logger), Recovery(logger), WithBackupDir(backupDir))

	h := NewHandler(pool, repl, logger)
	h.Register(router)

	router.GET("/healthz", h.Healthz)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return &Server{
		handler: h,
		logger:  logger,
		http: &http.Server{
			Addr:    addr,
			Handler: router,
			// No per-request deadline beyond the client's own — spec.md §5
			// leaves RPC handler cancellation to the caller.
		},
	}
}

// Start begins listening. It returns immediately; errors other than a
// graceful Close are delivered on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("listening")
		err := s.http.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	return errCh
}

// Router returns the underlying http.Handler, for tests that want to drive
// the servicer through a real net/http round trip (e.g. httptest.Server)
// without binding s's own configured address.
func (s *Server) Router() http.Handler {
	return s.http.Handler
}

// Stop enters DRAINING and closes the listener immediately — spec.md §5's
// "zero-grace immediate drain": no new connections are accepted, but Close
// does not wait for in-flight handlers the way Shutdown would. Worker tasks
// already in flight still run to completion independently of the HTTP
// layer, since Submit only blocks the calling goroutine.
func (s *Server) Stop() error {
	s.logger.Info().Msg("draining")
	return s.http.Close()
}

// pingResponse is the Ping RPC's reply shape.
type pingResponse struct {
	Message string `json:"message"`
}
