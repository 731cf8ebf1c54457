package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/service/coordinator"
	"github.com/lmplayground/model-store/internal/service/registry"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // asset streaming can take arbitrarily long
		IdleTimeout:  60 * time.Second,
	}
}

// Controller is the command and state surface the server exposes
type Controller interface {
	Snapshot() coordinator.State
	RequestLocationChange(ctx context.Context, raw string) (*domain.MigrationPlan, error)
	ConfirmMigration() error
	SkipMigration(ctx context.Context) error
	CancelMigration(ctx context.Context) error
	StartDownload(ctx context.Context, assetID string) error
	CancelDownload(ctx context.Context, assetID string) error
	DeleteAsset(ctx context.Context, filename string) error
	OpenAsset(ctx context.Context, filename string) (*registry.AssetHandle, error)
	DismissNotice()
}

// Pinger reports database health
type Pinger interface {
	Ping() error
}

// Server represents the HTTP API server
type Server struct {
	config       *Config
	db           Pinger
	logger       *zap.Logger
	server       *http.Server
	fileHandler  *FileHandler
	adminHandler *AdminHandler
	debugHandler *DebugHandler
}

// New creates a new HTTP server
func New(cfg *Config, ctl Controller, db Pinger, stats []StatsSource, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		db:     db,
		logger: logger,
	}

	s.fileHandler = NewFileHandler(ctl, logger)
	s.adminHandler = NewAdminHandler(ctl, logger)
	s.debugHandler = NewDebugHandler(stats, logger)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	protect := func(h http.HandlerFunc) http.HandlerFunc { return h }
	if cfg.AdminUsername != "" {
		protect = BasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, logger)
	}

	// State and commands
	mux.HandleFunc("GET /api/state", protect(s.adminHandler.HandleState))
	mux.HandleFunc("PUT /api/location", protect(s.adminHandler.HandleLocation))
	mux.HandleFunc("POST /api/migration/{action}", protect(s.adminHandler.HandleMigration))
	mux.HandleFunc("POST /api/downloads/{assetID}", protect(s.adminHandler.HandleStartDownload))
	mux.HandleFunc("DELETE /api/downloads/{assetID}", protect(s.adminHandler.HandleCancelDownload))
	mux.HandleFunc("DELETE /api/assets/{filename}", protect(s.adminHandler.HandleDeleteAsset))
	mux.HandleFunc("DELETE /api/notice", protect(s.adminHandler.HandleDismissNotice))

	// Stored asset content
	mux.HandleFunc("GET /api/assets/{filename}", protect(s.fileHandler.HandleAsset))

	// Debug endpoints
	mux.HandleFunc("GET /debug/stats", protect(s.debugHandler.HandleStats))

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// statusFor maps a domain error to an HTTP status
func statusFor(err error) int {
	switch domain.Classify(err) {
	case domain.ErrNotConfigured,
		domain.ErrAlreadyActive,
		domain.ErrMigrationInProgress,
		domain.ErrNoPendingMigration,
		domain.ErrInvalidStateTransition,
		domain.ErrConflict:
		return http.StatusConflict
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrAccessDenied:
		return http.StatusForbidden
	case domain.ErrInsufficientSpace:
		return http.StatusInsufficientStorage
	case domain.ErrInvalidInput, domain.ErrInvalidLocation:
		return http.StatusBadRequest
	case domain.ErrNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes err as a JSON error body with its mapped status
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
