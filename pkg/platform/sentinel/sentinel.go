package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and sinks return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: entity already exists where uniqueness is required
// - ErrClosed: store or sink no longer accepts writes
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrClosed   = errors.New("closed")
)
