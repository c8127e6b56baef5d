package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

const fingerprintLen = 16

// DeviceTokenReader resolves a stored token record by fingerprint.
type DeviceTokenReader interface {
	Lookup(ctx context.Context, fingerprint string) (deviceID string, tokenHash string, err error)
}

// NewDeviceToken generates a device bearer token. The plaintext is handed
// to the device exactly once; only its fingerprint and digest are stored.
func NewDeviceToken() string {
	var buf [32]byte
	_, _ = rand.Read(buf[:])
	return "dv_" + hex.EncodeToString(buf[:])
}

// TokenFingerprint returns the short lookup key for a token.
func TokenFingerprint(token string) string {
	return HashToken(token)[:fingerprintLen]
}

// HashToken returns the SHA-256 hex digest of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// DeviceMiddleware authenticates device requests with bearer tokens.
// Lookup goes through the fingerprint index; verification compares the
// stored digest in constant time so plaintext tokens are never needed
// server-side after issuance.
type DeviceMiddleware struct {
	Tokens DeviceTokenReader
}

// NewDeviceMiddleware constructs a device auth middleware.
func NewDeviceMiddleware(tokens DeviceTokenReader) *DeviceMiddleware {
	return &DeviceMiddleware{Tokens: tokens}
}

// Wrap enforces device token validation and stores the device id in context.
func (m *DeviceMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Tokens == nil {
			http.Error(w, "device auth not configured", http.StatusUnauthorized)
			return
		}
		token := extractBearer(r)
		if token == "" {
			http.Error(w, "missing device token", http.StatusUnauthorized)
			return
		}
		deviceID, storedHash, err := m.Tokens.Lookup(r.Context(), TokenFingerprint(token))
		if err != nil {
			http.Error(w, "device auth error", http.StatusInternalServerError)
			return
		}
		if deviceID == "" || storedHash == "" {
			http.Error(w, "invalid device token", http.StatusUnauthorized)
			return
		}
		if !hmac.Equal([]byte(storedHash), []byte(HashToken(token))) {
			http.Error(w, "invalid device token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), deviceID)))
	})
}
