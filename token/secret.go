package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const secretSize = 32

func newSecret() (string, []byte, error) {
	raw := make([]byte, secretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	return base64.RawURLEncoding.EncodeToString(raw), raw, nil
}

// parseSecret rejects anything that could not have been produced by newSecret.
func parseSecret(token string) ([]byte, bool) {
	if len(token) != base64.RawURLEncoding.EncodedLen(secretSize) {
		return nil, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != secretSize {
		return nil, false
	}
	return raw, true
}

func hashSecret(raw []byte) string {
	sum := sha256.Sum256(raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
