package service

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the credit and scheduling services. Every
// business rule failure is one of these, detected before anything is
// written and returned unwrapped or wrapped with %w.
var (
	ErrValidation = errors.New("checkin: invalid input")

	// Balance errors
	ErrInsufficientCredits = errors.New("checkin: no credits available")
	ErrPlanExpired         = errors.New("checkin: plan expired")

	// Event and reservation errors
	ErrEventNotReservable  = errors.New("checkin: event is not reservable")
	ErrCapacityExceeded    = errors.New("checkin: event is full")
	ErrCheckInWindowClosed = errors.New("checkin: check-in window closed")
	ErrAlreadyReserved     = errors.New("checkin: already checked in")
	ErrReservationNotFound = errors.New("checkin: reservation not found")

	// Payment errors. A duplicate is a short-circuit success and is never
	// returned from IdempotencyGate.Process.
	ErrDuplicateExternalEvent = errors.New("checkin: payment already processed")

	// Lookup errors
	ErrUserNotActivated = errors.New("checkin: user not activated")
	ErrUserNotFound     = errors.New("checkin: user not found")
	ErrEventNotFound    = errors.New("checkin: event not found")
	ErrPlanNotFound     = errors.New("checkin: plan not found")
)

// ValidationError reports malformed input on a single field. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("checkin: invalid %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, msg string) error {
	return ValidationError{Field: field, Message: msg}
}

// outcome names an error for metric labels.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrInsufficientCredits):
		return "no_credits"
	case errors.Is(err, ErrPlanExpired):
		return "plan_expired"
	case errors.Is(err, ErrEventNotReservable):
		return "not_reservable"
	case errors.Is(err, ErrCapacityExceeded):
		return "full"
	case errors.Is(err, ErrCheckInWindowClosed):
		return "window_closed"
	case errors.Is(err, ErrAlreadyReserved):
		return "already_reserved"
	case errors.Is(err, ErrReservationNotFound):
		return "not_found"
	case errors.Is(err, ErrUserNotActivated):
		return "not_activated"
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrEventNotFound), errors.Is(err, ErrPlanNotFound):
		return "not_found"
	}
	return "error"
}
