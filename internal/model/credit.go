package model

import "fmt"

// CheckInType names the credit pool a unit was granted to or spent from.
// The three pools together make up a user's spendable balance.
type CheckInType string

const (
	CheckInTypeTrial CheckInType = "TRIAL"
	CheckInTypeFree  CheckInType = "FREE"
	CheckInTypePaid  CheckInType = "PAID"
)

// SpendOrder is the order in which pools are drawn down on check-in: the
// most restrictive pool first.
var SpendOrder = []CheckInType{CheckInTypeTrial, CheckInTypeFree, CheckInTypePaid}

// Valid reports whether t is one of the known pools.
func (t CheckInType) Valid() bool {
	switch t {
	case CheckInTypeTrial, CheckInTypeFree, CheckInTypePaid:
		return true
	}
	return false
}

// ParseCheckInType converts a stored or user supplied value into a CheckInType.
func ParseCheckInType(s string) (CheckInType, error) {
	t := CheckInType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown check-in type %q", s)
	}
	return t, nil
}

// StatementType is the direction of a ledger entry.
type StatementType string

const (
	StatementCredit StatementType = "CREDIT"
	StatementDebit  StatementType = "DEBIT"
)

// Sign returns +1 for credits and -1 for debits.
func (t StatementType) Sign() int64 {
	if t == StatementDebit {
		return -1
	}
	return 1
}
