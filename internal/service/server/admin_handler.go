package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/lmplayground/model-store/internal/domain"
)

// maxBodySize bounds command request bodies
const maxBodySize = 64 * 1024

// AdminHandler handles state and command requests
type AdminHandler struct {
	ctl    Controller
	logger *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(ctl Controller, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		ctl:    ctl,
		logger: logger,
	}
}

// HandleState returns the current snapshot
func (h *AdminHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Snapshot())
}

type locationRequest struct {
	Location string `json:"location"`
}

type locationResponse struct {
	Applied bool                  `json:"applied"`
	Plan    *domain.MigrationPlan `json:"plan,omitempty"`
}

// HandleLocation requests a new storage location: PUT /api/location
func (h *AdminHandler) HandleLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}

	h.logger.Debug("location change requested", zap.String("location", req.Location))
	plan, err := h.ctl.RequestLocationChange(r.Context(), req.Location)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if plan == nil {
		writeJSON(w, http.StatusOK, locationResponse{Applied: true})
		return
	}
	writeJSON(w, http.StatusAccepted, locationResponse{Plan: plan})
}

// HandleMigration resolves the pending plan: POST /api/migration/{action}
func (h *AdminHandler) HandleMigration(w http.ResponseWriter, r *http.Request) {
	var err error
	status := http.StatusNoContent

	switch action := r.PathValue("action"); action {
	case "confirm":
		err = h.ctl.ConfirmMigration()
		status = http.StatusAccepted
	case "skip":
		err = h.ctl.SkipMigration(r.Context())
	case "cancel":
		err = h.ctl.CancelMigration(r.Context())
	default:
		http.Error(w, "Unknown migration action", http.StatusNotFound)
		return
	}

	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(status)
}

// HandleStartDownload starts a download: POST /api/downloads/{assetID}
func (h *AdminHandler) HandleStartDownload(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("assetID")
	if err := h.ctl.StartDownload(r.Context(), assetID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleCancelDownload cancels a download: DELETE /api/downloads/{assetID}
func (h *AdminHandler) HandleCancelDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.CancelDownload(r.Context(), r.PathValue("assetID")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteAsset removes a stored asset: DELETE /api/assets/{filename}
func (h *AdminHandler) HandleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.DeleteAsset(r.Context(), r.PathValue("filename")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDismissNotice clears the notice: DELETE /api/notice
func (h *AdminHandler) HandleDismissNotice(w http.ResponseWriter, r *http.Request) {
	h.ctl.DismissNotice()
	w.WriteHeader(http.StatusNoContent)
}
