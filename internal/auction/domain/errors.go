package domain

import "errors"

// caller errors
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("auction not found")
)

// storage errors
var (
	ErrDurability = errors.New("event could not be persisted")
)

// replication errors, resolved locally and never surfaced to clients
var (
	ErrDuplicateEvent  = errors.New("duplicate event")
	ErrOutOfOrderEvent = errors.New("event arrived before its predecessor")
	ErrResyncRequired  = errors.New("pending buffer full, resync required")
	ErrMalformedEvent  = errors.New("malformed event")
)
