package forecast

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/errors"
)

// Handler provides HTTP handlers for trend predictions
type Handler struct {
	forecaster *Forecaster
}

// NewHandler creates a new forecast handler
func NewHandler(forecaster *Forecaster) *Handler {
	return &Handler{forecaster: forecaster}
}

// Routes registers the forecast routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.Predict)
	r.Get("/outliers", h.SeriesOutliers)

	return r
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	disease := diagnosis.Disease(r.URL.Query().Get("disease"))

	daysAhead := 0
	if d := r.URL.Query().Get("days_ahead"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 0 {
			writeError(w, errors.BadRequest("invalid days_ahead"))
			return
		}
		daysAhead = parsed
	}

	includeHistory := r.URL.Query().Get("include_history") == "true"

	forecast, err := h.forecaster.Predict(r.Context(), region, disease, daysAhead, includeHistory)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, forecast)
}

func (h *Handler) SeriesOutliers(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	disease := diagnosis.Disease(r.URL.Query().Get("disease"))

	days := 0
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 0 {
			writeError(w, errors.BadRequest("invalid days"))
			return
		}
		days = parsed
	}

	report, err := h.forecaster.SeriesOutliers(r.Context(), region, disease, days)
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
