package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openfield/eventlog-pipeline/pkg/config"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
)

const shutdownGrace = 10 * time.Second

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	http *http.Server
	logg *logger.Logger
}

func NewServer(cfg *config.Config, handler http.Handler, logg *logger.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              ":" + cfg.App.Port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		logg: logg,
	}
}

// Run serves until the context is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if s.logg != nil {
			s.logg.Info(logCtx(s.logg, ctx, s.http.Addr), "http server listening")
		}
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func logCtx(logg *logger.Logger, ctx context.Context, addr string) context.Context {
	return logg.WithField(ctx, "addr", addr)
}
