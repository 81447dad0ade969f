package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned for a state change a state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidState is returned when an operation is not allowed in the current queue status.
	ErrInvalidState = errors.New("invalid queue state")
	// ErrInvalidParameter is returned for a bad position, retry count or missing reference.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrBehindHead is returned when registering a position the activated queue already passed.
	ErrBehindHead = fmt.Errorf("%w: position behind head", ErrInvalidParameter)
	// ErrMaxSuspendRetries is returned by Unsuspend once a queue was suspended too often.
	ErrMaxSuspendRetries = errors.New("maximal suspension tries reached")
	// ErrPoolFull is returned when every stager slot is taken.
	ErrPoolFull = errors.New("stager pool is full")
	// ErrConcluded is returned when starting a stager after Conclude.
	ErrConcluded = errors.New("stagers controller concluded")
)
