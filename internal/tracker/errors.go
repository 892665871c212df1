package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence marks a recoverable store failure. The classified record is kept
	// queued and re-persisted by RetryPending.
	ErrPersistence = errors.New("persistence failed")
	// ErrUnknownPlace is returned for a place transition naming a place the store does not know
	ErrUnknownPlace = errors.New("unknown place")
	// ErrEngineStopped is returned when submitting to an engine that is no longer running
	ErrEngineStopped = errors.New("engine stopped")
)

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
