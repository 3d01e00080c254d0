package curation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/mapping"
	"github.com/synaptica-ai/curator/pkg/rulefile"
)

const uploadMemory = 32 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/mappings", h.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/mappings", h.handleBulkUpdate).Methods(http.MethodPut)
	r.HandleFunc("/mappings/summary", h.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/mappings/missing", h.handleMissing).Methods(http.MethodGet)
	r.HandleFunc("/mappings/export", h.handleExport).Methods(http.MethodGet)
	r.HandleFunc("/mappings/rules", h.handleRulesArchive).Methods(http.MethodGet)
	r.HandleFunc("/mappings/rules/export", h.handleDataSourceExport).Methods(http.MethodGet)
	r.HandleFunc("/mappings/rules/rebuild", h.handleWriteRules).Methods(http.MethodPost)
	r.HandleFunc("/mappings/uploads", h.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/mappings/rebuild", h.handleRebuild).Methods(http.MethodPost)
	r.HandleFunc("/mappings/{id:[0-9]+}", h.handleGet).Methods(http.MethodGet)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	page, err := h.service.Search(r.Context(), Query{
		Filter: filter,
		Page:   parseInt(r, "page", 1),
		Size:   parseInt(r, "size", defaultPageSize),
	})
	if err != nil {
		writeError(w, err, "failed to search mappings")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid entity id", http.StatusBadRequest)
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, "failed to get mapping")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), r.URL.Query().Get("entity-type"))
	if err != nil {
		writeError(w, err, "failed to summarize mappings")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleMissing(w http.ResponseWriter, r *http.Request) {
	missing, err := h.service.Missing(r.Context())
	if err != nil {
		writeError(w, err, "failed to list missing mappings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mappings": missing})
}

func (h *Handler) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var edits []Edit
	if err := json.NewDecoder(r.Body).Decode(&edits); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := h.service.UpdateRecords(r.Context(), edits)
	if err != nil {
		writeError(w, err, "failed to update mappings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mappings": updated})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		http.Error(w, "invalid multipart upload", http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["uploads"]
	if len(files) == 0 {
		http.Error(w, "no file in field uploads", http.StatusBadRequest)
		return
	}

	var rows []Correction
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, "failed to read upload", http.StatusBadRequest)
			return
		}
		parsed, err := parseUpload(fh.Filename, f)
		f.Close()
		if err != nil {
			writeError(w, err, "failed to parse upload")
			return
		}
		rows = append(rows, parsed...)
	}

	updated, err := h.service.ApplyCorrections(r.Context(), rows)
	if err != nil {
		writeError(w, err, "failed to apply corrections")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mappings": updated})
}

func parseUpload(name string, r io.Reader) ([]Correction, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return ParseCorrectionsXLSX(r)
	case ".csv", "":
		return ParseCorrectionsCSV(r)
	default:
		return nil, ValidationError{Problems: []string{fmt.Sprintf("unsupported file type %q", name)}}
	}
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, err := h.service.Find(r.Context(), filter)
	if err != nil {
		writeError(w, err, "failed to export mappings")
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		var buf bytes.Buffer
		if err := WriteXLSX(&buf, records); err != nil {
			writeError(w, err, "failed to write xlsx export")
			return
		}
		writeAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "mappings.xlsx", buf.Bytes())
		return
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		writeError(w, err, "failed to write csv export")
		return
	}
	writeAttachment(w, "text/csv", "mappings.csv", buf.Bytes())
}

func (h *Handler) handleRulesArchive(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.service.ExportRulesArchive(&buf); err != nil {
		writeError(w, err, "failed to write rule archive")
		return
	}
	writeAttachment(w, "application/zip", "mappings.zip", buf.Bytes())
}

func (h *Handler) handleDataSourceExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.service.ExportDataSources(r.Context(), &buf); err != nil {
		writeError(w, err, "failed to write data source export")
		return
	}
	writeAttachment(w, "application/zip", "export.zip", buf.Bytes())
}

// writeAttachment sends a download that has already been built in full.
func writeAttachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logger.Log.WithError(err).WithField("file", filename).Warn("failed to send attachment")
	}
}

func (h *Handler) handleWriteRules(w http.ResponseWriter, r *http.Request) {
	includeUnmapped, _ := strconv.ParseBool(r.URL.Query().Get("include-unmapped"))
	if err := h.service.WriteAllRules(r.Context(), includeUnmapped); err != nil {
		writeError(w, err, "failed to write rule files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "written"})
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.RebuildFromRules(r.Context())
	if err != nil {
		writeError(w, err, "failed to rebuild mappings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": n})
}

// parseFilter reads the search parameters shared by search and export.
// mq carries a label:value pair.
func parseFilter(r *http.Request) (mapping.Filter, error) {
	q := r.URL.Query()
	var f mapping.Filter

	if mq := q.Get("mq"); mq != "" {
		label, value, ok := strings.Cut(mq, ":")
		if !ok || strings.TrimSpace(label) == "" {
			return f, fmt.Errorf("mq must be label:value")
		}
		f.Label = strings.TrimSpace(label)
		f.Value = value
	}
	for _, raw := range q["entity-type"] {
		t, err := mapping.ParseRecordType(raw)
		if err != nil {
			return f, err
		}
		f.Types = append(f.Types, t)
	}
	for _, raw := range q["status"] {
		st, err := mapping.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	f.MappedTerm = q.Get("mapped-term")
	f.MapMethod = q.Get("map-type")

	if only, _ := strconv.ParseBool(q.Get("map-terms-only")); only {
		f.View = mapping.ViewMapped
	} else if only, _ := strconv.ParseBool(q.Get("unmapped-only")); only {
		f.View = mapping.ViewUnmapped
	}
	return f, nil
}

func parseInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func writeError(w http.ResponseWriter, err error, msg string) {
	var missing MissingError
	var invalid ValidationError
	switch {
	case errors.As(err, &missing):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "mappings not found", "missing": missing.IDs})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"error": "validation failed", "problems": invalid.Problems})
	case errors.Is(err, ErrNotFound):
		http.Error(w, "mapping not found", http.StatusNotFound)
	case errors.Is(err, rulefile.ErrRulesNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNotReady):
		http.Error(w, "mapping index not ready", http.StatusServiceUnavailable)
	case errors.Is(err, ErrRebuildInProgress), errors.Is(err, ErrLocked):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, mapping.ErrUnknownType), errors.Is(err, mapping.ErrInvalidStatus), errors.Is(err, mapping.ErrIncompleteIdentity):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Log.WithError(err).Error(msg)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
