package rewards

import (
	"time"

	"github.com/shopspring/decimal"
)

// poolID keys the singleton row holding the active reward code.
const poolID = "current"

// Status is the lifecycle state of a reward code.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusUsed     Status = "used"
	StatusDepleted Status = "depleted"
)

// RewardPool is the single authoritative balance for the currently active reward code.
// Every write increments Version; writers compare-and-swap on it.
type RewardPool struct {
	ID            string          `gorm:"column:id;primaryKey;size:16;not null"`
	ActiveCode    string          `gorm:"column:active_code;size:64;not null"`
	TotalPool     decimal.Decimal `gorm:"column:total_pool;type:decimal(20,8);not null"`
	RemainingPool decimal.Decimal `gorm:"column:remaining_pool;type:decimal(20,8);not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null"`
	ExpiresAt     time.Time       `gorm:"column:expires_at;not null"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;not null"`
	Version       int64           `gorm:"column:version;not null;default:1"`
}

// TableName provides the explicit table binding for GORM.
func (RewardPool) TableName() string {
	return "reward_pools"
}

// RewardHistoryRecord is the audit row written once per generated code.
type RewardHistoryRecord struct {
	ID         string          `gorm:"column:id;primaryKey;size:64;not null"`
	SecretCode string          `gorm:"column:secret_code;size:64;not null;uniqueIndex:idx_reward_history_code"`
	Pool       decimal.Decimal `gorm:"column:pool;type:decimal(20,8);not null"`
	CarryOver  decimal.Decimal `gorm:"column:carry_over;type:decimal(20,8);not null;default:0"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null;index:idx_reward_history_created"`
	ExpiresAt  time.Time       `gorm:"column:expires_at;not null"`
	Status     Status          `gorm:"column:status;size:16;not null;default:'active'"`
}

// TableName provides the explicit table binding for GORM.
func (RewardHistoryRecord) TableName() string {
	return "reward_history"
}

// RewardClaim is one immutable ledger entry.
type RewardClaim struct {
	ID            string          `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	UserID        string          `gorm:"column:user_id;size:190;not null;index:idx_reward_claims_user" json:"userId"`
	RewardCode    string          `gorm:"column:reward_code;size:64;not null;uniqueIndex:idx_reward_claims_code_order,priority:1" json:"rewardCode"`
	ClaimOrder    int64           `gorm:"column:claim_order;not null;uniqueIndex:idx_reward_claims_code_order,priority:2" json:"claimOrder"`
	ClaimedAmount decimal.Decimal `gorm:"column:claimed_amount;type:decimal(20,8);not null" json:"claimedAmount"`
	ClaimedAt     time.Time       `gorm:"column:claimed_at;not null" json:"claimedAt"`
	CodeCreatedAt time.Time       `gorm:"column:code_created_at;not null" json:"codeCreatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (RewardClaim) TableName() string {
	return "reward_claims"
}

// Models lists the tables owned by this package for schema migration.
func Models() []interface{} {
	return []interface{}{&RewardPool{}, &RewardHistoryRecord{}, &RewardClaim{}}
}

// PoolSnapshot is the public view of the active pool.
type PoolSnapshot struct {
	ActiveCode    string          `json:"activeCode"`
	TotalPool     decimal.Decimal `json:"totalPool"`
	RemainingPool decimal.Decimal `json:"remainingPool"`
	CreatedAt     time.Time       `json:"createdAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (p RewardPool) snapshot() PoolSnapshot {
	return PoolSnapshot{
		ActiveCode:    p.ActiveCode,
		TotalPool:     p.TotalPool,
		RemainingPool: p.RemainingPool,
		CreatedAt:     p.CreatedAt,
		ExpiresAt:     p.ExpiresAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// HistoryEntry is a history record with its status derived at read time.
type HistoryEntry struct {
	SecretCode string          `json:"secretCode"`
	Pool       decimal.Decimal `json:"pool"`
	CarryOver  decimal.Decimal `json:"carryOver"`
	CreatedAt  time.Time       `json:"createdAt"`
	ExpiresAt  time.Time       `json:"expiresAt"`
	Status     Status          `json:"status"`
}
