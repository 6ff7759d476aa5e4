// Package httpapi exposes the vault over JSON HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/metrics"
	"github.com/dmitrijs2005/gophvault/internal/server/services"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// Services bundles what the handlers call.
type Services struct {
	Auth        *services.AuthService
	Credentials *services.CredentialService
	Rotation    *services.RotationService
	Metrics     *metrics.Metrics
}

type HTTPServer struct {
	address string
	engine  *gin.Engine
	logger  logging.Logger
}

func NewHTTPServer(addr string, l logging.Logger, svc Services) *HTTPServer {
	logger := l.With("module", "http_server")
	return &HTTPServer{
		address: addr,
		engine:  NewRouter(logger, svc),
		logger:  logger,
	}
}

// Handler is the routed engine, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

func (s *HTTPServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping HTTP server...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.logger.Error(sctx, "shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
