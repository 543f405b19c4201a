package order

import (
	"errors"
	"fmt"
)

// Protocol desync: the local ledger and the venue disagree.
var (
	ErrUnknownCorrelationID         = errors.New("order: unknown correlation id")
	ErrUnknownOrderID               = errors.New("order: unknown order id")
	ErrUnknownExecution             = errors.New("order: execution for unknown order")
	ErrNegativeAmountAfterExecution = errors.New("order: negative amount after execution")
)

// Request-side misuse by the caller.
var (
	ErrUnknownHandle     = errors.New("order: unknown handle")
	ErrInvalidTransition = errors.New("order: invalid order state transition")
)

// DesyncError wraps a desync sentinel with the event that exposed it.
type DesyncError struct {
	Err   error
	Event Event
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("%v, event: %s %+v", e.Err, e.Event.EventName(), e.Event)
}

func (e *DesyncError) Unwrap() error {
	return e.Err
}

func desync(err error, ev Event) error {
	return &DesyncError{Err: err, Event: ev}
}

// IsDesync reports whether err means the ledger lost track of the venue.
func IsDesync(err error) bool {
	var de *DesyncError
	return errors.As(err, &de)
}
