package domain

import "errors"

var (
	// ErrProbeNotAllowed marks a probe id outside the allow-list.
	ErrProbeNotAllowed = errors.New("probe not allowed")
	// ErrInvalidParameter marks a rejected probe parameter.
	ErrInvalidParameter = errors.New("invalid probe parameter")
	// ErrProtocol marks a malformed reply from the compute backend.
	ErrProtocol = errors.New("backend protocol failure")
	// ErrBackendUnavailable marks a backend that cannot be reached or authenticated.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBudgetExhausted marks a stage that ran out of time.
	ErrBudgetExhausted = errors.New("budget exhausted")
	// ErrStoreCorrupt marks persisted state that could not be decoded.
	ErrStoreCorrupt = errors.New("state store corrupt")
)
