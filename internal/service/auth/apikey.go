package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyVerifier accepts keys whose bcrypt hash is configured
type APIKeyVerifier struct {
	hashes [][]byte
}

// NewAPIKeyVerifier validates and stores the configured hashes
func NewAPIKeyVerifier(hashes []string) (*APIKeyVerifier, error) {
	v := &APIKeyVerifier{hashes: make([][]byte, 0, len(hashes))}
	for i, h := range hashes {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("%w: api key hash %d: %v", ErrInvalidConfig, i, err)
		}
		v.hashes = append(v.hashes, []byte(h))
	}
	return v, nil
}

// Enabled reports whether any key is configured
func (v *APIKeyVerifier) Enabled() bool {
	return v != nil && len(v.hashes) > 0
}

// Verify returns nil if key matches a configured hash
func (v *APIKeyVerifier) Verify(key string) error {
	if key == "" || !v.Enabled() {
		return ErrInvalidAPIKey
	}
	for _, h := range v.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return nil
		}
	}
	return ErrInvalidAPIKey
}

// HashAPIKey returns the bcrypt hash to configure for key
func HashAPIKey(key string, cost int) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: api key cannot be empty", ErrInvalidConfig)
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(h), nil
}
