package cluster

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/shared/errors"
)

// Handler provides HTTP handlers for epidemic clusters
type Handler struct {
	engine *Engine
	store  Store
}

// NewHandler creates a new cluster handler
func NewHandler(engine *Engine, store Store) *Handler {
	return &Handler{engine: engine, store: store}
}

// Routes registers the cluster routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListClusters)
	r.Post("/sweep", h.Sweep)
	r.Post("/thresholds/check", h.CheckThresholds)

	r.Route("/{clusterID}", func(r chi.Router) {
		r.Get("/", h.GetCluster)
		r.Post("/resolve", h.ResolveCluster)
		r.Post("/monitor", h.MonitorCluster)
	})

	return r
}

type CheckThresholdsRequest struct {
	Region  string            `json:"region,omitempty"`
	Disease diagnosis.Disease `json:"disease,omitempty"`
	Days    int               `json:"days,omitempty"`
	Rules   []ThresholdRule   `json:"rules,omitempty"`
}

func (h *Handler) ListClusters(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Region:  r.URL.Query().Get("region"),
		Disease: diagnosis.Disease(r.URL.Query().Get("disease")),
		Status:  Status(r.URL.Query().Get("status")),
	}

	clusters, err := h.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  clusters,
		"total": len(clusters),
	})
}

func (h *Handler) GetCluster(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Get(r.Context(), chi.URLParam(r, "clusterID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Sweep(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) CheckThresholds(w http.ResponseWriter, r *http.Request) {
	var req CheckThresholdsRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.BadRequest("invalid request body"))
			return
		}
	} else {
		req.Region = r.URL.Query().Get("region")
		req.Disease = diagnosis.Disease(r.URL.Query().Get("disease"))
		if d := r.URL.Query().Get("days"); d != "" {
			parsed, err := strconv.Atoi(d)
			if err != nil {
				writeError(w, errors.BadRequest("invalid days"))
				return
			}
			req.Days = parsed
		}
	}

	for _, rule := range req.Rules {
		if rule.Metric == "" || rule.WarningLevel <= 0 || rule.CriticalLevel < rule.WarningLevel {
			writeError(w, errors.Validation("invalid threshold rule", map[string]string{
				"metric": string(rule.Metric),
			}))
			return
		}
	}

	report, err := h.engine.CheckThresholds(r.Context(), req.Region, req.Disease, req.Days, req.Rules)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ResolveCluster(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, StatusResolved)
}

func (h *Handler) MonitorCluster(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, StatusMonitored)
}

// transition applies an operator-driven status change
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, to Status) {
	c, err := h.store.Get(r.Context(), chi.URLParam(r, "clusterID"))
	if err != nil {
		writeError(w, err)
		return
	}

	if c.Status != StatusActive && to == StatusMonitored {
		writeError(w, errors.BadRequest("only active clusters can be monitored"))
		return
	}

	c.Status = to
	c.UpdatedAt = time.Now().UTC()

	if err := h.store.Update(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
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
