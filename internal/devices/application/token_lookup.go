package application

import (
	"context"
	"errors"

	devices "fleetpulse-cloud/internal/devices/domain"
)

// TokenLookup resolves device credentials for the auth middleware. Tokens
// of unregistered or disabled devices resolve to nothing.
type TokenLookup struct {
	tokens devices.TokenRepository
	repo   devices.Repository
}

// NewTokenLookup constructs a token lookup.
func NewTokenLookup(tokens devices.TokenRepository, repo devices.Repository) (*TokenLookup, error) {
	if tokens == nil || repo == nil {
		return nil, errors.New("devices: nil token lookup dependency")
	}
	return &TokenLookup{tokens: tokens, repo: repo}, nil
}

// Lookup implements auth.DeviceTokenReader.
func (l *TokenLookup) Lookup(ctx context.Context, fingerprint string) (string, string, error) {
	if l == nil {
		return "", "", errors.New("devices: nil token lookup")
	}
	record, err := l.tokens.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		return "", "", err
	}
	if record == nil {
		return "", "", nil
	}
	device, err := l.repo.Get(ctx, record.DeviceID)
	if errors.Is(err, devices.ErrNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	if !device.Enabled {
		return "", "", nil
	}
	return record.DeviceID, record.TokenHash, nil
}
