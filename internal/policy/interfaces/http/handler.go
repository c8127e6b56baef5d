package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"fleetpulse-cloud/internal/auth"
	devices "fleetpulse-cloud/internal/devices/domain"
	policyapp "fleetpulse-cloud/internal/policy/application"
)

// PolicyHandler serves the device policy pull endpoint.
type PolicyHandler struct {
	composer *policyapp.Composer
}

// NewPolicyHandler constructs a handler.
func NewPolicyHandler(composer *policyapp.Composer) (*PolicyHandler, error) {
	if composer == nil {
		return nil, errors.New("policy handler: nil composer")
	}
	return &PolicyHandler{composer: composer}, nil
}

// ServeHTTP handles GET /device/v1/policy. A matching If-None-Match header
// short-circuits to 304 with no body.
func (h *PolicyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deviceID := auth.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	payload, etag, err := h.composer.Compose(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		http.Error(w, "compose error", http.StatusInternalServerError)
		return
	}

	quoted := `"` + etag + `"`
	if match := r.Header.Get("If-None-Match"); match != "" && matchesETag(match, quoted) {
		w.Header().Set("ETag", quoted)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", quoted)
	_ = json.NewEncoder(w).Encode(payload)
}

func matchesETag(header, quoted string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == quoted || candidate == "*" {
			return true
		}
	}
	return false
}
