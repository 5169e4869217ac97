package model

import "time"

// CheckIn records a member's seat in a specific event. A row exists only
// while the seat is held; cancellation deletes it and refunds the credit,
// so the number of rows for an event is its occupied capacity.
//
// Fields:
//
//	ID        – primary key identifier (ULID).
//	EventID   – event being attended.
//	UserID    – member who checked in.
//	Type      – credit pool the seat was paid from.
//	Attended  – set after the event: true attended, false no-show, nil unknown.
//	CreatedAt – creation timestamp.
type CheckIn struct {
	ID        string      `json:"id"`         // check_ins.id
	EventID   string      `json:"event_id"`   // check_ins.event_id
	UserID    string      `json:"user_id"`    // check_ins.user_id
	Type      CheckInType `json:"type"`       // check_ins.type
	Attended  *bool       `json:"attended"`   // check_ins.attended (nullable)
	CreatedAt time.Time   `json:"created_at"` // check_ins.created_at
}

// CheckInState is the lifecycle position of a (user, event) pair.
type CheckInState string

const (
	StateNone     CheckInState = "NONE"
	StateReserved CheckInState = "RESERVED"
	StateAttended CheckInState = "ATTENDED"
	StateNoShow   CheckInState = "NO_SHOW"
)

// State derives the lifecycle state from the stored row. A nil receiver is
// the NONE state.
func (c *CheckIn) State() CheckInState {
	switch {
	case c == nil:
		return StateNone
	case c.Attended == nil:
		return StateReserved
	case *c.Attended:
		return StateAttended
	default:
		return StateNoShow
	}
}
