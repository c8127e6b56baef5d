package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubTokenReader struct {
	records map[string]stubTokenRecord
}

type stubTokenRecord struct {
	deviceID  string
	tokenHash string
}

func (s *stubTokenReader) Lookup(_ context.Context, fingerprint string) (string, string, error) {
	rec, ok := s.records[fingerprint]
	if !ok {
		return "", "", nil
	}
	return rec.deviceID, rec.tokenHash, nil
}

func newDeviceTestServer(t *testing.T, token string) (*DeviceMiddleware, http.Handler) {
	t.Helper()
	reader := &stubTokenReader{records: map[string]stubTokenRecord{
		TokenFingerprint(token): {deviceID: "dev-1", tokenHash: HashToken(token)},
	}}
	mw := NewDeviceMiddleware(reader)
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if DeviceIDFromContext(r.Context()) != "dev-1" {
			t.Fatalf("device id missing from context")
		}
		w.WriteHeader(http.StatusOK)
	}))
	return mw, handler
}

func TestDeviceMiddleware_ValidToken(t *testing.T) {
	token := NewDeviceToken()
	_, handler := newDeviceTestServer(t, token)

	req := httptest.NewRequest(http.MethodPost, "/ingest/points", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestDeviceMiddleware_MissingToken(t *testing.T) {
	_, handler := newDeviceTestServer(t, NewDeviceToken())

	req := httptest.NewRequest(http.MethodPost, "/ingest/points", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestDeviceMiddleware_UnknownToken(t *testing.T) {
	_, handler := newDeviceTestServer(t, NewDeviceToken())

	req := httptest.NewRequest(http.MethodPost, "/ingest/points", nil)
	req.Header.Set("Authorization", "Bearer "+NewDeviceToken())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestTokenFingerprintStable(t *testing.T) {
	token := NewDeviceToken()
	if TokenFingerprint(token) != TokenFingerprint(token) {
		t.Fatal("fingerprint not deterministic")
	}
	if len(TokenFingerprint(token)) != fingerprintLen {
		t.Fatalf("unexpected fingerprint length %d", len(TokenFingerprint(token)))
	}
}
