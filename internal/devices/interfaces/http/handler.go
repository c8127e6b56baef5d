package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"fleetpulse-cloud/internal/audit"
	"fleetpulse-cloud/internal/auth"
	deviceapp "fleetpulse-cloud/internal/devices/application"
	devices "fleetpulse-cloud/internal/devices/domain"
)

// Handler provides device admin endpoints under /api/v1/devices.
type Handler struct {
	service     *deviceapp.Service
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *deviceapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("devices handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP routes device admin requests:
//
//	POST /api/v1/devices                register
//	GET  /api/v1/devices                list
//	GET  /api/v1/devices/{id}           fetch
//	POST /api/v1/devices/{id}/mode      set operation mode
//	POST /api/v1/devices/{id}/mute      set mute window
//	POST /api/v1/devices/{id}/unmute    clear mute window
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/devices")
	rest = strings.Trim(rest, "/")

	if rest == "" {
		switch r.Method {
		case http.MethodPost:
			h.handleRegister(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	deviceID := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.handleGet(w, r, deviceID)
	case action == "mode" && r.Method == http.MethodPost:
		h.handleMode(w, r, deviceID)
	case action == "mute" && r.Method == http.MethodPost:
		h.handleMute(w, r, deviceID)
	case action == "unmute" && r.Method == http.MethodPost:
		h.handleUnmute(w, r, deviceID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req deviceapp.RegisterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Register(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)

	h.logAudit(r, "device.register", resp.Device.DeviceID, body)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []devices.Device{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"devices": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, deviceID string) {
	device, err := h.service.Get(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(device)
}

func (h *Handler) handleMode(w http.ResponseWriter, r *http.Request, deviceID string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.service.SetOperationMode(r.Context(), deviceID, req.Mode); err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.logAudit(r, "device.set_mode", deviceID, body)
}

func (h *Handler) handleMute(w http.ResponseWriter, r *http.Request, deviceID string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req struct {
		Until time.Time `json:"until"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Until.IsZero() {
		http.Error(w, "until required", http.StatusBadRequest)
		return
	}
	if err := h.service.Mute(r.Context(), deviceID, req.Until); err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.logAudit(r, "device.mute", deviceID, body)
}

func (h *Handler) handleUnmute(w http.ResponseWriter, r *http.Request, deviceID string) {
	if err := h.service.Unmute(r.Context(), deviceID); err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.logAudit(r, "device.unmute", deviceID, nil)
}

func (h *Handler) logAudit(r *http.Request, action, deviceID string, payload []byte) {
	if h.auditLogger == nil {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:         auth.SubjectFromContext(r.Context()),
		Role:          string(auth.RoleFromContext(r.Context())),
		Action:        action,
		ResourceType:  "device",
		ResourceID:    deviceID,
		DeviceID:      deviceID,
		PayloadDigest: audit.DigestJSON(payload),
		IP:            audit.ClientIP(r),
		UserAgent:     r.UserAgent(),
	})
}
