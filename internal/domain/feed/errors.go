package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession indicates a server token was handled before a session id was bound.
	ErrNoSession = errors.New("model provider has no session id")

	// ErrBindFailed indicates the session manager could not resolve payloads for new children.
	ErrBindFailed = errors.New("failed to bind children")
)

// ErrorType classifies a ModelError.
type ErrorType int

const (
	ErrorUnknown ErrorType = iota
	// NoCardsError is session scoped and broadcast to every session observer.
	NoCardsError
	// PaginationError is token scoped.
	PaginationError
	// SyntheticTokenError is token scoped.
	SyntheticTokenError
)

// String returns the string representation of the error type
func (t ErrorType) String() string {
	switch t {
	case NoCardsError:
		return "NO_CARDS_ERROR"
	case PaginationError:
		return "PAGINATION_ERROR"
	case SyntheticTokenError:
		return "SYNTHETIC_TOKEN_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// TokenScoped reports whether errors of this type go to token observers only.
func (t ErrorType) TokenScoped() bool {
	return t == PaginationError || t == SyntheticTokenError
}

// ModelError is routed to observers rather than returned.
type ModelError struct {
	Type              ErrorType
	ContinuationToken []byte
}

// NewModelError creates a model error for the given continuation token (may be nil).
func NewModelError(errorType ErrorType, continuationToken []byte) ModelError {
	return ModelError{Type: errorType, ContinuationToken: continuationToken}
}

func (e ModelError) Error() string {
	if len(e.ContinuationToken) == 0 {
		return fmt.Sprintf("model error: %s", e.Type)
	}
	return fmt.Sprintf("model error: %s (token %x)", e.Type, e.ContinuationToken)
}

// InternalError is a diagnostic reported to the Diagnostics side channel.
type InternalError int

const (
	InternalRootNotBoundToFeature InternalError = iota + 1
	InternalMultipleRoots
	InternalBindFailed
	InternalTokenNotFound
	InternalInvalidState
)

// String returns the string representation of the internal error
func (e InternalError) String() string {
	switch e {
	case InternalRootNotBoundToFeature:
		return "root_not_bound_to_feature"
	case InternalMultipleRoots:
		return "multiple_roots"
	case InternalBindFailed:
		return "bind_failed"
	case InternalTokenNotFound:
		return "token_not_found"
	case InternalInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}
