package service

import "github.com/iliyamo/checkin-credits/internal/model"

// SelectSpendPool picks the pool a check-in is paid from: the first pool in
// model.SpendOrder (TRIAL, FREE, PAID) holding at least one credit. It
// reports false when every pool is empty.
func SelectSpendPool(u model.User) (model.CheckInType, bool) {
	for _, pool := range model.SpendOrder {
		if u.Pool(pool) > 0 {
			return pool, true
		}
	}
	return "", false
}
