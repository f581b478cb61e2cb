// Package server exposes the orchestrator over HTTP. One exchange maps to
// one POST whose reply is a newline-delimited JSON stream of protocol
// responses, flushed as they are produced.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/flowsmith-ai/flowsmith/logging"
	"github.com/flowsmith-ai/flowsmith/orchestrator"
	"github.com/flowsmith-ai/flowsmith/protocol"
)

// Options configure the HTTP server.
type Options struct {
	// Addr is the listen address.
	Addr string
	// Logger receives structured diagnostics.
	Logger logging.Logger
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// Server wraps an echo instance serving the converse API.
type Server struct {
	echo            *echo.Echo
	orch            *orchestrator.Orchestrator
	logger          logging.Logger
	addr            string
	shutdownTimeout time.Duration
}

// New constructs a Server with optional overrides.
func New(orch *orchestrator.Orchestrator, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:            ":8230",
		Logger:          logging.NoOpLogger{},
		ShutdownTimeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:            e,
		orch:            orch,
		logger:          opts.Logger,
		addr:            opts.Addr,
		shutdownTimeout: opts.ShutdownTimeout,
	}

	e.GET("/healthz", s.handleHealth)
	v1 := e.Group("/v1")
	v1.POST("/converse", s.handleConverse)
	v1.POST("/converse/sync", s.handleConverseSync)
	v1.POST("/exchanges/:id/cancel", s.handleCancel)

	return s
}

// Start runs the server until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// Handler exposes the underlying handler, used in tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleConverse streams responses as NDJSON when the caller enables
// streaming; otherwise the exchange is buffered into a single JSON array,
// same as /converse/sync. The HTTP status is always 200 once streaming
// begins; domain failures arrive as ERROR responses inside the stream.
func (s *Server) handleConverse(c echo.Context) error {
	var req protocol.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}

	if !req.Config.EnableStreaming {
		return s.respondBuffered(c, req)
	}

	ctx := c.Request().Context()
	exchangeID, out, errCh, err := s.orch.Converse(ctx, req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	res.Header().Set("X-Exchange-Id", exchangeID)
	res.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(res)
	for resp := range out {
		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("client disconnected mid-stream exchange_id=%s err=%v", exchangeID, err)
			return nil
		}
		res.Flush()
	}
	if err := <-errCh; err != nil {
		s.logger.Error("exchange aborted exchange_id=%s err=%v", exchangeID, err)
	}
	return nil
}

// handleConverseSync buffers the whole exchange and replies with a JSON
// array, for clients that cannot consume a stream.
func (s *Server) handleConverseSync(c echo.Context) error {
	var req protocol.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}
	return s.respondBuffered(c, req)
}

func (s *Server) respondBuffered(c echo.Context, req protocol.Request) error {
	responses, err := s.orch.ConverseSync(c.Request().Context(), req)
	if err != nil {
		if len(responses) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		s.logger.Error("exchange aborted session_id=%s err=%v", req.SessionID, err)
	}
	return c.JSON(http.StatusOK, responses)
}

func (s *Server) handleCancel(c echo.Context) error {
	if err := s.orch.Cancel(c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "canceled"})
}
