package rewards

import "time"

// DeriveStatus reports a history record's status at now. Precedence: expired by time,
// then depleted (stored, or the live pool for this code has nothing left), then used,
// then active. pool may be nil when no pool row exists.
func DeriveStatus(record RewardHistoryRecord, pool *RewardPool, now time.Time) Status {
	if !now.Before(record.ExpiresAt) {
		return StatusExpired
	}
	if record.Status == StatusDepleted {
		return StatusDepleted
	}
	if pool != nil && pool.ActiveCode == record.SecretCode && !pool.RemainingPool.IsPositive() {
		return StatusDepleted
	}
	if record.Status == StatusUsed {
		return StatusUsed
	}
	if record.Status == StatusExpired {
		return StatusExpired
	}
	return StatusActive
}
