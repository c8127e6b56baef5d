package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	alerts "fleetpulse-cloud/internal/alerts/domain"
)

// AlertQueryHandler serves alert history queries.
type AlertQueryHandler struct {
	repo alerts.Repository
}

// NewAlertQueryHandler constructs a handler.
func NewAlertQueryHandler(repo alerts.Repository) (*AlertQueryHandler, error) {
	if repo == nil {
		return nil, errors.New("alert handler: nil repository")
	}
	return &AlertQueryHandler{repo: repo}, nil
}

// ServeHTTP handles GET /api/v1/alerts with device_id, status, from and to
// query filters.
func (h *AlertQueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	status := q.Get("status")
	switch status {
	case "", "open", "resolved":
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	list, err := h.repo.List(r.Context(), q.Get("device_id"), status, from, to)
	if err != nil {
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alerts.Alert{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"alerts": list})
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
