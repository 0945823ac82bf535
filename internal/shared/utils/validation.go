package utils

import (
	"fmt"
	"regexp"
)

// Payload size limits (in bytes)
const (
	MaxMessageSize = 4 * 1024 * 1024 // bridge message posted by a page
	MaxScriptSize  = 8 * 1024 * 1024 // single injected script
)

// JSIdentifierPattern matches a plain JavaScript identifier. Bridge and
// listener object names are spliced into generated source, so they must
// match it.
var JSIdentifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// IsJSIdentifier reports whether name can be used as window.<name>
func IsJSIdentifier(name string) bool {
	return JSIdentifierPattern.MatchString(name)
}

// SizeValidator validates payload size limits
type SizeValidator struct {
	maxSize int
}

// NewSizeValidator creates a new validator with the specified max size
func NewSizeValidator(maxSize int) *SizeValidator {
	return &SizeValidator{maxSize: maxSize}
}

// DefaultMessageValidator returns a validator for inbound page messages
func DefaultMessageValidator() *SizeValidator {
	return NewSizeValidator(MaxMessageSize)
}

// ValidateSize checks if the data size is within limits
func (v *SizeValidator) ValidateSize(data []byte) error {
	if size := len(data); v.maxSize > 0 && size > v.maxSize {
		return fmt.Errorf("payload size %d bytes exceeds maximum %d bytes", size, v.maxSize)
	}
	return nil
}
