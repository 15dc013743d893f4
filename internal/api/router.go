package api

import (
	"net/http"

	"polystore/internal/logging"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all REST API routes
func (h *RESTHandler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Apply middleware
	router.Use(logging.CorrelationIDMiddleware(h.logger))
	router.Use(logging.LoggingMiddleware(h.logger))
	router.Use(h.CORSMiddleware)

	// API version 1
	v1 := router.PathPrefix("/api/v1").Subrouter()

	// Key-value operations
	v1.HandleFunc("/kv/{key}", h.SetKey).Methods(http.MethodPut)
	v1.HandleFunc("/kv/{key}", h.GetKey).Methods(http.MethodGet)
	v1.HandleFunc("/kv/{key}", h.DeleteKey).Methods(http.MethodDelete)
	v1.HandleFunc("/kv/{key}", h.ExistsKey).Methods(http.MethodHead)

	// List operations
	v1.HandleFunc("/kv", h.ListKeys).Methods(http.MethodGet)

	// Batch operations
	v1.HandleFunc("/kv/batch", h.Batch).Methods(http.MethodPost)
	v1.HandleFunc("/kv/batch/get", h.BatchGet).Methods(http.MethodPost)

	// Query
	v1.HandleFunc("/query", h.Query).Methods(http.MethodPost)

	// Graph relationships (graph engine only)
	v1.HandleFunc("/graph/{id}/relationships", h.GetRelationships).Methods(http.MethodGet)

	// Health and stats
	v1.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	v1.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)

	// Handle OPTIONS for all routes (CORS preflight)
	v1.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Root endpoints
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/", h.RootHandler).Methods(http.MethodGet)

	return router
}

// RootHandler handles requests to the root path
func (h *RESTHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service":     "Pluggable Key-Value Store",
		"version":     "1.0.0",
		"api_version": "v1",
		"backend":     string(h.store.Backend()),
		"endpoints": map[string]interface{}{
			"health": "/health or /api/v1/health",
			"stats":  "/api/v1/stats",
			"kv_operations": map[string]string{
				"set":    "PUT /api/v1/kv/{key}",
				"get":    "GET /api/v1/kv/{key}",
				"delete": "DELETE /api/v1/kv/{key}",
				"exists": "HEAD /api/v1/kv/{key}",
				"list":   "GET /api/v1/kv?limit={limit}",
			},
			"batch_operations": map[string]string{
				"batch":     "POST /api/v1/kv/batch",
				"batch_get": "POST /api/v1/kv/batch/get",
			},
			"query":         "POST /api/v1/query",
			"relationships": "GET /api/v1/graph/{id}/relationships",
		},
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}
