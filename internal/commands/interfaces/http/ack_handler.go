package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"fleetpulse-cloud/internal/auth"
	commandsapp "fleetpulse-cloud/internal/commands/application"
)

// AckHandler handles device-side command acknowledgements.
type AckHandler struct {
	service *commandsapp.Service
}

// NewAckHandler constructs a handler.
func NewAckHandler(service *commandsapp.Service) (*AckHandler, error) {
	if service == nil {
		return nil, errors.New("commands ack handler: nil service")
	}
	return &AckHandler{service: service}, nil
}

// ServeHTTP handles POST /device/v1/commands/ack. Acking a command that is
// no longer pending returns 200 with acked=false.
func (h *AckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deviceID := auth.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		CommandID string `json:"command_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := h.service.Ack(r.Context(), deviceID, req.CommandID); err != nil {
		if errors.Is(err, commandsapp.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "ack error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"command_id": req.CommandID, "status": "ok"})
}
