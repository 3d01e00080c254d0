package ontology

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/mapping"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/ontologies", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/ontologies/reload", h.handleReload).Methods(http.MethodPost)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	terms, err := h.service.ListByType(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		if errors.Is(err, mapping.ErrUnknownType) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to list ontology terms")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"terms": terms})
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Reload(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		switch {
		case errors.Is(err, mapping.ErrUnknownType):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrReloadInProgress):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			logger.Log.WithError(err).Error("failed to reload ontology terms")
			http.Error(w, "failed to reload ontology terms", http.StatusBadGateway)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"terms": n})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
