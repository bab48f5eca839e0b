package auction

import "time"

// CalculateStatus derives a property's auction status. Rules apply in order:
//
//  1. override sold -> sold
//  2. override withdrawn -> withdrawn
//  3. no linked sale -> unknown
//  4. sale cancelled -> withdrawn
//  5. ongoing sale type -> active
//  6. sale date before now -> expired
//  7. otherwise -> active
//
// Every write that touches an override, a link or a linked sale must store the
// result of this function in the same transaction.
func CalculateStatus(override *Override, sale *Sale, now time.Time) Status {
	if override != nil {
		switch *override {
		case OverrideSold:
			return StatusSold
		case OverrideWithdrawn:
			return StatusWithdrawn
		}
	}
	if sale == nil {
		return StatusUnknown
	}
	if sale.Status == SaleStatusCancelled {
		return StatusWithdrawn
	}
	if sale.Type.IsOngoing() {
		return StatusActive
	}
	if sale.Date != nil && sale.Date.Before(now) {
		return StatusExpired
	}
	return StatusActive
}
