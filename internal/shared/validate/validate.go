// Package validate checks client-supplied values before they reach a feed
// provider.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/feedmodel/internal/domain/feed"
)

// Size limits
const (
	MaxContentIDLength = 256
	MaxUIContextSize   = 64 * 1024 // serialized bytes
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid input")

// ContentIDPattern allows the characters used by fixture and generated ids,
// including the "::" and "_token:" separators.
var ContentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// String validates a string field with length and content checks
func String(value, fieldName string, minLen, maxLen int, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%w: %s is required", ErrInvalid, fieldName)
		}
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%w: %s must be at least %d characters", ErrInvalid, fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%w: %s must not exceed %d characters", ErrInvalid, fieldName, maxLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%w: %s contains invalid characters", ErrInvalid, fieldName)
	}
	return nil
}

// ContentID validates a content id.
func ContentID(id, fieldName string, required bool) error {
	if err := String(id, fieldName, 1, MaxContentIDLength, required); err != nil {
		return err
	}
	if id != "" && !ContentIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %s contains invalid characters", ErrInvalid, fieldName)
	}
	return nil
}

// UIContext bounds the serialized size of a UI context.
func UIContext(payload map[string]string) error {
	if len(payload) == 0 {
		return nil
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: ui context: %w", ErrInvalid, err)
	}
	if len(data) > MaxUIContextSize {
		return fmt.Errorf("%w: ui context size %d bytes exceeds maximum %d bytes", ErrInvalid, len(data), MaxUIContextSize)
	}
	return nil
}

// Reason checks that a non-empty reason names a known RequestReason.
func Reason(reason string) error {
	if reason == "" {
		return nil
	}
	if feed.ParseRequestReason(reason) == feed.ReasonUnknown && reason != feed.ReasonUnknown.String() {
		return fmt.Errorf("%w: unknown reason %q", ErrInvalid, reason)
	}
	return nil
}
