// Package server runs the HTTP API and the run workers until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/api"
	"github.com/JakeFAU/supplier-discovery/internal/app"
)

const shutdownTimeout = 10 * time.Second

// Server owns the listener and the worker pool of one process.
type Server struct {
	app    *app.App
	srv    *http.Server
	logger *zap.Logger
}

// New wires the API onto the App's services.
func New(a *app.App) *Server {
	cfg := a.Config()
	handler := api.NewServer(api.Deps{
		Runs:      a.Runs(),
		Submitter: a,
		Queue:     a.Queue(),
		Ready:     a.Ready,
		Logger:    a.Logger().Named("api"),
	}, cfg)
	return &Server{
		app: a,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: a.Logger(),
	}
}

// Run serves until ctx is done, then drains the HTTP server and the workers.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	dispatch, err := s.app.Dispatcher()
	if err != nil {
		return err
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		s.logger.Info("dispatcher started")
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	s.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server shutdown error", zap.Error(err))
	}
	s.app.Queue().Close()
	<-workersDone
	s.logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return nil
	}
}
