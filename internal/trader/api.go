package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"binance-grid-bot-go/internal/models"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIServer provides an HTTP interface for the trading engine.
type APIServer struct {
	server *http.Server
	router *mux.Router
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer listening on port.
func NewAPIServer(engine *Engine, port int, logger *zap.Logger) *APIServer {
	s := &APIServer{
		router: mux.NewRouter(),
		engine: engine,
		logger: logger.Named("api-server"),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *APIServer) setupRoutes() {
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/api/ledger", s.ledgerHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the routed handler of the server.
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.engine.Status())
}

func (s *APIServer) ledgerHandler(w http.ResponseWriter, r *http.Request) {
	l := s.engine.Ledger()
	s.writeJSON(w, struct {
		Pair  string        `json:"pair"`
		Grids []models.Grid `json:"tradingGrids"`
	}{
		Pair:  l.Pair(),
		Grids: l.Grids(),
	})
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
