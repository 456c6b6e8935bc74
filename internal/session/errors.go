package session

import "errors"

// Error kinds surfaced by the session. Fatal ones put the session into
// StateError until an explicit restart; negotiation errors are logged per
// message and bounded by the watchdog instead.
var (
	ErrAuthentication    = errors.New("no valid caller identity")
	ErrAllocator         = errors.New("allocator request failed")
	ErrRelaySubscription = errors.New("relay subscription failed")
	ErrMediaAcquisition  = errors.New("local media acquisition failed")
	ErrNegotiation       = errors.New("negotiation message rejected")
	ErrClosed            = errors.New("session closed")
	ErrInvalidTransition = errors.New("operation not valid in current state")
)
