package model

import "time"

// User represents a member as stored in the `users` table together with the
// materialized credit balance. The balance fields are a cache of the
// statements ledger and are only written by the credit ledger and the
// renewal engine, always in the same transaction as a statement insert.
//
// Fields:
//
//	ID                    – primary key identifier.
//	Email                 – unique email address.
//	Role                  – MEMBER or ADMIN.
//	IsUserActivated       – whether the account finished activation.
//	CheckInsQuantity      – total spendable credits (trial + free + paid).
//	TrialCheckInsQuantity – credits in the TRIAL pool.
//	FreeCheckInsQuantity  – credits in the FREE pool.
//	PaidCheckInsQuantity  – credits in the PAID pool.
//	ExpirationDate        – end of the paid subscription period (nullable).
//	SubscriptionID        – external subscription reference (nullable).
//	StripeID              – external customer reference (nullable).
//	CreatedAt / UpdatedAt – timestamps.
type User struct {
	ID                    string     // users.id
	Email                 string     // users.email
	Role                  string     // users.role
	IsUserActivated       bool       // users.is_user_activated
	CheckInsQuantity      int64      // users.check_ins_quantity
	TrialCheckInsQuantity int64      // users.trial_check_ins_quantity
	FreeCheckInsQuantity  int64      // users.free_check_ins_quantity
	PaidCheckInsQuantity  int64      // users.paid_check_ins_quantity
	ExpirationDate        *time.Time // users.expiration_date (nullable)
	SubscriptionID        *string    // users.subscription_id (nullable)
	StripeID              *string    // users.stripe_id (nullable)
	CreatedAt             time.Time  // users.created_at
	UpdatedAt             time.Time  // users.updated_at
}

const (
	RoleMember = "MEMBER"
	RoleAdmin  = "ADMIN"
)

// Pool returns the sub-balance for the given credit type.
func (u User) Pool(t CheckInType) int64 {
	switch t {
	case CheckInTypeTrial:
		return u.TrialCheckInsQuantity
	case CheckInTypeFree:
		return u.FreeCheckInsQuantity
	case CheckInTypePaid:
		return u.PaidCheckInsQuantity
	}
	return 0
}

// Expired reports whether the subscription period has ended at now. A user
// that never subscribed has no expiration and is not expired.
func (u User) Expired(now time.Time) bool {
	return u.ExpirationDate != nil && !u.ExpirationDate.After(now)
}

// Balance is the read model returned to members for their own account.
type Balance struct {
	UserID         string     `json:"user_id"`
	Total          int64      `json:"check_ins_quantity"`
	Trial          int64      `json:"trial_check_ins_quantity"`
	Free           int64      `json:"free_check_ins_quantity"`
	Paid           int64      `json:"paid_check_ins_quantity"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

// BalanceOf projects the user's materialized balance.
func BalanceOf(u User) Balance {
	return Balance{
		UserID:         u.ID,
		Total:          u.CheckInsQuantity,
		Trial:          u.TrialCheckInsQuantity,
		Free:           u.FreeCheckInsQuantity,
		Paid:           u.PaidCheckInsQuantity,
		ExpirationDate: u.ExpirationDate,
	}
}
