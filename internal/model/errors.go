package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("order not found")
	ErrAuthentication = errors.New("authentication failed")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("transition conflicts with current state")
	ErrUpstream       = errors.New("payment gateway unavailable")
	ErrPersistence    = errors.New("order store failure")
)

// StatusError reports the order status that blocked a requested transition.
type StatusError struct {
	Current OrderStatus
	Action  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot %s order in status %q", e.Action, e.Current)
}

func (e *StatusError) Unwrap() error {
	return ErrConflict
}
