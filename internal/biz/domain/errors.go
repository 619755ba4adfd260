package domain

import "errors"

// ErrInvalidTransition is returned when a state machine rejects a transition.
var ErrInvalidTransition = errors.New("invalid state transition")
