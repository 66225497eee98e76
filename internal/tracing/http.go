package tracing

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/togo-health/epiwatch/internal/shared/errors"
)

// Handler provides HTTP handlers for contact tracing and investigation
type Handler struct {
	service *Service
}

// NewHandler creates a new tracing handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the tracing routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/contacts/{eventID}", h.GetContacts)
	r.Get("/graph/{patientID}", h.GetGraph)
	r.Get("/r0", h.GetR0)
	r.Get("/investigations/{eventID}", h.GetInvestigation)

	return r
}

func (h *Handler) GetContacts(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	index, contacts, err := h.service.FindContacts(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event":    index,
		"contacts": contacts,
		"total":    len(contacts),
	})
}

func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	maxDepth := -1
	if d := r.URL.Query().Get("max_depth"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 0 {
			writeError(w, errors.BadRequest("invalid max_depth"))
			return
		}
		maxDepth = parsed
	}

	graph, err := h.service.BuildGraph(r.Context(), patientID, maxDepth)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, graph)
}

func (h *Handler) GetR0(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")

	var from, to time.Time
	if s := r.URL.Query().Get("start"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid start date, expected RFC 3339"))
			return
		}
		from = parsed
	}
	if s := r.URL.Query().Get("end"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid end date, expected RFC 3339"))
			return
		}
		to = parsed
	}

	estimate, err := h.service.CalculateR0(r.Context(), region, from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, estimate)
}

func (h *Handler) GetInvestigation(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	report, err := h.service.Investigate(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
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
