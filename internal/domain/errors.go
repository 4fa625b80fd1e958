package domain

import "errors"

var (
	// ErrNotFound is returned when a store lookup matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks bad input rejected before any network call.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState marks a state-machine transition that is not allowed
	// from the current status. Expected under trigger races; the engine
	// absorbs it where documented, everything else surfaces it.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrInvalidFill marks a broker fill that contradicts the order.
	ErrInvalidFill = errors.New("invalid fill")

	// ErrInvalidRule marks a stop-loss/take-profit bracket that does not
	// bracket the entry price for the position direction.
	ErrInvalidRule = errors.New("invalid risk rule")

	// ErrDuplicateOrder is returned when an order id was already submitted.
	ErrDuplicateOrder = errors.New("duplicate order")

	// ErrGatewayTransient marks a broker failure worth retrying (timeout, 5xx).
	ErrGatewayTransient = errors.New("transient gateway failure")

	// ErrGatewayPermanent marks a broker failure that must not be retried.
	ErrGatewayPermanent = errors.New("permanent gateway failure")
)
