package anomaly

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/togo-health/epiwatch/internal/shared/errors"
)

// Handler provides HTTP handlers for anomaly listings
type Handler struct {
	detector *Detector
}

// NewHandler creates a new anomaly handler
func NewHandler(detector *Detector) *Handler {
	return &Handler{detector: detector}
}

// Routes registers the anomaly routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListAnomalies)
	r.Get("/patterns", h.ListPatterns)
	r.Post("/report", h.Report)

	return r
}

func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	findings, err := h.detector.Detect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  findings,
		"total": len(findings),
	})
}

func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	findings, err := h.detector.DetectPatterns(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  findings,
		"total": len(findings),
	})
}

func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	findings, err := h.detector.Report(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  findings,
		"total": len(findings),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
