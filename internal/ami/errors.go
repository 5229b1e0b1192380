package ami

import "errors"

var (
	// ErrNotConnected is returned when an action is attempted without an
	// established session.
	ErrNotConnected = errors.New("ami: not connected")

	// ErrDisconnected fails pending actions when the session drops.
	ErrDisconnected = errors.New("ami: disconnected")

	// ErrTimeout is returned when no response arrives within the deadline.
	ErrTimeout = errors.New("ami: action timed out")

	// ErrAuthFailed indicates the server rejected the login credentials.
	// It is terminal for the connect attempt and never retried.
	ErrAuthFailed = errors.New("ami: authentication failed")

	// ErrActionRejected indicates the server responded with an error to a
	// well-formed action.
	ErrActionRejected = errors.New("ami: action rejected")

	// ErrNotFound is returned for operations on an unknown or already
	// ended call.
	ErrNotFound = errors.New("ami: call not found")
)
