package bridge

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// NewSecret returns a fresh random bridge secret. A new secret is
// generated for every page load and never leaves the host except inside
// the injected bridge script.
func NewSecret() string {
	return uuid.NewString()
}

// SecretsEqual compares secrets in constant time.
func SecretsEqual(expected, got string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
