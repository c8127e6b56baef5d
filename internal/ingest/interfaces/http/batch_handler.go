package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	ingest "fleetpulse-cloud/internal/ingest/domain"
)

// BatchQueryHandler lists ingest batch receipts for operators.
type BatchQueryHandler struct {
	batches ingest.BatchReader
}

// NewBatchQueryHandler constructs a batch query handler.
func NewBatchQueryHandler(batches ingest.BatchReader) (*BatchQueryHandler, error) {
	if batches == nil {
		return nil, errors.New("batch handler: nil batch reader")
	}
	return &BatchQueryHandler{batches: batches}, nil
}

// ServeHTTP lists batches for a device inside an optional time range.
func (h *BatchQueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeParam(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	batches, err := h.batches.ListByDevice(r.Context(), deviceID, from, to)
	if err != nil {
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	if batches == nil {
		batches = []ingest.Batch{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"batches": batches})
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(name + " must be RFC3339")
	}
	return ts, nil
}
