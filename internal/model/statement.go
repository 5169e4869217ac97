package model

import "time"

// Statement is one immutable ledger entry. Quantity is always a positive
// magnitude; Type gives the direction. A user's balance in a pool is the
// signed sum of that pool's statements.
type Statement struct {
	ID          string        `json:"id"`                    // statements.id (ULID, time ordered)
	UserID      string        `json:"user_id"`               // statements.user_id
	Type        StatementType `json:"type"`                  // statements.type
	CheckInType CheckInType   `json:"check_in_type"`         // statements.check_in_type
	Quantity    int64         `json:"check_ins_quantity"`    // statements.check_ins_quantity
	CheckInID   *string       `json:"check_in_id,omitempty"` // statements.check_in_id (nullable)
	PaymentID   *string       `json:"payment_id,omitempty"`  // statements.payment_id (nullable, unique)
	Title       string        `json:"title"`                 // statements.title
	Description string        `json:"description,omitempty"` // statements.description
	CreatedAt   time.Time     `json:"created_at"`            // statements.created_at
}

// Signed returns the quantity with the statement's sign applied.
func (s Statement) Signed() int64 {
	return s.Type.Sign() * s.Quantity
}

// CreditSource describes where a grant came from. Exactly one reference is
// usually set; manual grants carry only a title.
type CreditSource struct {
	PaymentID   *string
	CheckInID   *string
	Title       string
	Description string
}
