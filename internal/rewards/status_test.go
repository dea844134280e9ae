package rewards

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	record := func(status Status, expiresAt time.Time) RewardHistoryRecord {
		return RewardHistoryRecord{SecretCode: "ALPHA", Status: status, ExpiresAt: expiresAt}
	}
	livePool := func(code string, remaining int64) *RewardPool {
		return &RewardPool{ActiveCode: code, RemainingPool: decimal.NewFromInt(remaining)}
	}
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		record RewardHistoryRecord
		pool   *RewardPool
		want   Status
	}{
		{name: "active", record: record(StatusActive, future), pool: livePool("ALPHA", 10), want: StatusActive},
		{name: "no-pool", record: record(StatusActive, future), want: StatusActive},
		{name: "expired-at-boundary", record: record(StatusActive, now), pool: livePool("ALPHA", 10), want: StatusExpired},
		{name: "expired-beats-depleted", record: record(StatusDepleted, now.Add(-time.Minute)), want: StatusExpired},
		{name: "stored-depleted", record: record(StatusDepleted, future), want: StatusDepleted},
		{name: "empty-live-pool", record: record(StatusActive, future), pool: livePool("ALPHA", 0), want: StatusDepleted},
		{name: "empty-pool-other-code", record: record(StatusActive, future), pool: livePool("BETA", 0), want: StatusActive},
		{name: "used", record: record(StatusUsed, future), pool: livePool("BETA", 5), want: StatusUsed},
		{name: "used-then-expired", record: record(StatusUsed, now.Add(-time.Second)), want: StatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.record, tt.pool, now); got != tt.want {
				t.Fatalf("DeriveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}
