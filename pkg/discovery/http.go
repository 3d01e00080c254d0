package discovery

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/curation"
)

type Handler struct {
	scanner *Scanner
}

func NewHandler(scanner *Scanner) *Handler {
	return &Handler{scanner: scanner}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/mappings/discover", h.handleScan).Methods(http.MethodPost)
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	report, err := h.scanner.Scan(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, curation.ErrNotReady):
			http.Error(w, "mapping index not ready", http.StatusServiceUnavailable)
		case errors.Is(err, curation.ErrRebuildInProgress), errors.Is(err, curation.ErrLocked):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			logger.Log.WithError(err).Error("failed to scan upstream providers")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
