package engine

import "errors"

// Error taxonomy for the sync engine. The API layer maps these to HTTP
// status codes; the reconciliation path logs and drops instead.
var (
	// ErrForbidden means the caller is not a member of the device's household.
	ErrForbidden = errors.New("engine: not a household member")

	// ErrNotFound means the device does not exist or belongs to a
	// different household.
	ErrNotFound = errors.New("engine: device not found")

	// ErrValidation means a command or status payload is malformed.
	ErrValidation = errors.New("engine: invalid payload")

	// ErrBrokerUnavailable means the command could not be published.
	// No state mutation has occurred.
	ErrBrokerUnavailable = errors.New("engine: broker unavailable")

	// ErrPersistence means the store write failed after the command was
	// already published. The device's stored state is now behind the wire.
	ErrPersistence = errors.New("engine: persistence failed")
)
