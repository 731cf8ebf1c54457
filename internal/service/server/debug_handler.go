package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// StatsSource contributes a named section to the debug statistics
type StatsSource struct {
	Name  string
	Stats func(ctx context.Context) (interface{}, error)
}

// DebugHandler handles debug endpoint requests
type DebugHandler struct {
	sources []StatsSource
	logger  *zap.Logger
}

// NewDebugHandler creates a new DebugHandler
func NewDebugHandler(sources []StatsSource, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		sources: sources,
		logger:  logger,
	}
}

// HandleStats handles debug statistics requests
func (h *DebugHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	response := make(map[string]interface{}, len(h.sources))
	for _, src := range h.sources {
		stats, err := src.Stats(r.Context())
		if err != nil {
			h.logger.Error("failed to get stats", zap.String("source", src.Name), zap.Error(err))
			http.Error(w, "Failed to get "+src.Name+" stats", http.StatusInternalServerError)
			return
		}
		response[src.Name] = stats
	}

	writeJSON(w, http.StatusOK, response)
}
