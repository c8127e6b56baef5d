package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"fleetpulse-cloud/internal/auth"
	"fleetpulse-cloud/internal/ingest/application"
	ingest "fleetpulse-cloud/internal/ingest/domain"
	"fleetpulse-cloud/internal/observability/metrics"
)

// IngestHandler handles telemetry ingestion from field devices.
type IngestHandler struct {
	pipeline *application.Pipeline
	logger   *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(pipeline *application.Pipeline, logger *log.Logger) (*IngestHandler, error) {
	if pipeline == nil {
		return nil, errors.New("ingest handler: nil pipeline")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{pipeline: pipeline, logger: logger}, nil
}

// ServeHTTP ingests a batch of telemetry points. The device identity comes
// from the bearer-token middleware, never from the payload.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	deviceID := auth.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req application.Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("ingest: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := h.pipeline.Ingest(r.Context(), deviceID, req)
	if err != nil {
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		if errors.Is(err, ingest.ErrValidation) {
			h.logger.Printf("ingest: invalid payload from %s: %v", deviceID, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Printf("ingest: pipeline error for %s: %v", deviceID, err)
		http.Error(w, "ingest error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
