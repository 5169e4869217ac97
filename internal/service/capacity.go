package service

import (
	"fmt"
	"time"

	"github.com/iliyamo/checkin-credits/internal/model"
)

// DefaultCutoff closes check-in and cancellation this long before start.
const DefaultCutoff = 10 * time.Minute

// Guard decides whether a seat may be taken or released. Implementations
// are pure; race safety comes from calling them inside the transaction
// that holds the event lock.
type Guard interface {
	EligibleToCheckIn(e model.Event, reserved int, now time.Time) error
	EligibleToCancel(e model.Event, now time.Time) error
}

// CapacityGuard enforces seat limits and the cutoff windows.
type CapacityGuard struct {
	CheckInCutoff time.Duration
	CancelCutoff  time.Duration
}

// NewCapacityGuard returns a guard with the given cutoffs; non-positive
// values fall back to DefaultCutoff.
func NewCapacityGuard(checkInCutoff, cancelCutoff time.Duration) CapacityGuard {
	if checkInCutoff <= 0 {
		checkInCutoff = DefaultCutoff
	}
	if cancelCutoff <= 0 {
		cancelCutoff = DefaultCutoff
	}
	return CapacityGuard{CheckInCutoff: checkInCutoff, CancelCutoff: cancelCutoff}
}

// EligibleToCheckIn requires a live event with a start date and a capacity,
// a current time before start minus the cutoff and a free seat.
func (g CapacityGuard) EligibleToCheckIn(e model.Event, reserved int, now time.Time) error {
	if !e.IsLive || e.StartDate == nil || e.CheckInsMaxQuantity == nil {
		return ErrEventNotReservable
	}
	if !now.Before(e.StartDate.Add(-g.CheckInCutoff)) {
		return ErrCheckInWindowClosed
	}
	if reserved >= *e.CheckInsMaxQuantity {
		return fmt.Errorf("%w: %d of %d seats taken", ErrCapacityExceeded, reserved, *e.CheckInsMaxQuantity)
	}
	return nil
}

// EligibleToCancel closes cancellation at the same distance from start.
// Events without a start date can always be cancelled.
func (g CapacityGuard) EligibleToCancel(e model.Event, now time.Time) error {
	if e.StartDate == nil {
		return nil
	}
	if !now.Before(e.StartDate.Add(-g.CancelCutoff)) {
		return ErrCheckInWindowClosed
	}
	return nil
}
