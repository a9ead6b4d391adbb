package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, idempotency keys and the
// workflow backend return these (optionally wrapped) so the engine can
// translate them into domain errors.
//
//   - ErrNotFound: entity or task does not exist
//   - ErrConflict: optimistic version check or unique key lost a race
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrUnavailable: backend or sink temporarily unavailable
//
// For validation errors use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
