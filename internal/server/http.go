package server

import (
	"context"
	"fmt"
	"net/http"

	"polystore/internal/api"
	"polystore/internal/config"
	"polystore/internal/logging"
	"polystore/internal/query"
	"polystore/internal/storage"
)

// HTTPServer represents the HTTP REST API server
type HTTPServer struct {
	config      *config.Config
	store       storage.BatchStorage[api.Document]
	logger      *logging.Logger
	server      *http.Server
	restHandler *api.RESTHandler
}

// NewHTTPServer creates a new HTTP server. The query executor matches
// the store's backend and is wrapped with the result cache when enabled.
func NewHTTPServer(cfg *config.Config, store storage.BatchStorage[api.Document], logger *logging.Logger) *HTTPServer {
	var executor query.Executor[api.Document] = query.ExecutorFor[api.Document](store)
	if cfg.Cache.Enabled {
		executor = query.NewCachedExecutor(executor, cfg.Cache.Size, cfg.Cache.TTL)
	}

	restHandler := api.NewRESTHandler(store, executor, logger)

	return &HTTPServer{
		config:      cfg,
		store:       store,
		logger:      logger,
		restHandler: restHandler,
	}
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	router := s.restHandler.SetupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.Info("Starting HTTP server",
		"address", addr,
		"service", "http",
	)

	return s.server.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}
