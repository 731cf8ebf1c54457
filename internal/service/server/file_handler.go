package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// FileHandler streams stored assets to clients
type FileHandler struct {
	ctl    Controller
	logger *zap.Logger
}

// NewFileHandler creates a new FileHandler
func NewFileHandler(ctl Controller, logger *zap.Logger) *FileHandler {
	return &FileHandler{
		ctl:    ctl,
		logger: logger,
	}
}

// HandleAsset serves the content of a stored asset: GET /api/assets/{filename}.
// Local assets support Range requests.
func (h *FileHandler) HandleAsset(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	h.logger.Debug("asset download requested", zap.String("filename", filename))

	handle, err := h.ctl.OpenAsset(r.Context(), filename)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer handle.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", handle.Filename()))

	if handle.Path() != "" {
		if f, err := os.Open(handle.Path()); err == nil {
			defer f.Close()
			modTime := time.Time{}
			if info, err := f.Stat(); err == nil {
				modTime = info.ModTime()
			}
			http.ServeContent(w, r, handle.Filename(), modTime, f)
			return
		}
	}

	if handle.Size() > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(handle.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	if n, err := io.Copy(w, handle); err != nil {
		h.logger.Warn("asset streaming interrupted",
			zap.String("filename", filename),
			zap.Int64("bytes_sent", n),
			zap.Error(err))
	}
}
