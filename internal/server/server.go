package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polystore/internal/config"
	"polystore/internal/logging"
	"polystore/internal/storage"
)

type Server struct {
	config     *config.Config
	logger     *logging.Logger
	store      storage.BatchStorage[map[string]any]
	httpServer *HTTPServer
	startTime  time.Time
}

func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.NewLogger(&cfg.Logging)

	logger.Info("Initializing server",
		"engine", cfg.Storage.Engine,
		"version", "1.0.0",
	)

	store, err := storage.Open[map[string]any](cfg.ToStorageConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create storage adapter: %w", err)
	}

	httpServer := NewHTTPServer(cfg, store, logger)

	return &Server{
		config:     cfg,
		logger:     logger,
		store:      store,
		httpServer: httpServer,
		startTime:  time.Now(),
	}, nil
}

func (s *Server) Start() error {
	s.logger.Info("Starting storage server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		if err := s.httpServer.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	s.logger.Info("Server started successfully",
		"http_port", s.config.Server.Port,
		"engine", s.config.Storage.Engine,
	)

	select {
	case err := <-errChan:
		s.logger.Error("Server encountered an error", "error", err.Error())
		return err
	case sig := <-sigChan:
		s.logger.Info("Received shutdown signal", "signal", sig)
		return s.Shutdown(ctx)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		if err := s.httpServer.Stop(shutdownCtx); err != nil {
			s.logger.Error("Failed to stop HTTP server", "error", err.Error())
		}

		if err := s.store.Close(shutdownCtx); err != nil {
			s.logger.Error("Failed to close storage adapter", "error", err.Error())
			done <- err
			return
		}

		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Error("Error during shutdown", "error", err.Error())
			return err
		}
		s.logger.Info("Server shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		s.logger.Error("Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (s *Server) GetUptime() time.Duration {
	return time.Since(s.startTime)
}
