package core

import (
	"errors"
	"fmt"
)

// Error codes reported to HTTP callers.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeStorageUnavailable = "storage_unavailable"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeStopped            = "coordinator_stopped"
)

var (
	ErrInvalidChannelCount = errors.New("invalid channel count")
	ErrEmptyParticipant    = errors.New("participant id is required")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrCoordinatorStopped  = errors.New("coordinator stopped")
)

// Code maps an operation error to the code reported to callers.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidChannelCount), errors.Is(err, ErrEmptyParticipant):
		return ErrCodeBadRequest
	case errors.Is(err, ErrStorageUnavailable):
		return ErrCodeStorageUnavailable
	case errors.Is(err, ErrCoordinatorStopped):
		return ErrCodeStopped
	default:
		return ""
	}
}

// ValidateCount reports whether count lies in 1..limit.
func ValidateCount(count, limit int) error {
	if count <= 0 || count > limit {
		return fmt.Errorf("%w: must be between 1 and %d", ErrInvalidChannelCount, limit)
	}
	return nil
}
