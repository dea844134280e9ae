package members

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	maxIdentifierLength   = 190
	maxPlatformCodeLength = 64
)

// Member is a platform user holding a claimable balance and an optional affiliation code.
type Member struct {
	ID             string          `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	DisplayName    string          `gorm:"column:display_name;size:320;not null;default:''" json:"displayName"`
	Email          string          `gorm:"column:email;size:320;not null;default:''" json:"email"`
	PlatformCodeID *string         `gorm:"column:platform_code_id;size:64;index:idx_members_platform_code" json:"platformCode,omitempty"`
	Balance        decimal.Decimal `gorm:"column:balance;type:decimal(20,8);not null;default:0" json:"balance"`
	TotalEarnings  decimal.Decimal `gorm:"column:total_earnings;type:decimal(20,8);not null;default:0" json:"totalEarnings"`
	Version        int64           `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt      time.Time       `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Member) TableName() string {
	return "members"
}

// PlatformCode returns the normalized affiliation code, or "" when the member has none.
func (m Member) PlatformCode() string {
	if m.PlatformCodeID == nil {
		return ""
	}
	return NormalizePlatformCode(*m.PlatformCodeID)
}

// Snapshot captures the fields the usage synchronizer compares between writes.
func (m Member) Snapshot() *MemberSnapshot {
	return &MemberSnapshot{MemberID: m.ID, PlatformCode: m.PlatformCode()}
}

// PlatformCode is an affiliation code with a denormalized count of linked members.
type PlatformCode struct {
	Code       string    `gorm:"column:code;primaryKey;size:64;not null" json:"code"`
	Name       string    `gorm:"column:name;size:320;not null;default:''" json:"name"`
	UsageCount int64     `gorm:"column:usage_count;not null;default:0" json:"usageCount"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (PlatformCode) TableName() string {
	return "platform_codes"
}

// Models lists the tables owned by this package for schema migration.
func Models() []interface{} {
	return []interface{}{&Member{}, &PlatformCode{}}
}

// MemberSnapshot is the before or after image of a member write.
type MemberSnapshot struct {
	MemberID     string
	PlatformCode string
}

// ChangeEvent describes one member write. Before is nil on create, After is nil on delete.
type ChangeEvent struct {
	Before *MemberSnapshot
	After  *MemberSnapshot
}

// MemberID returns the identifier of whichever snapshot is present.
func (e ChangeEvent) MemberID() string {
	if e.After != nil {
		return e.After.MemberID
	}
	if e.Before != nil {
		return e.Before.MemberID
	}
	return ""
}

// UsageDelta is a signed adjustment to one platform code's usage count.
type UsageDelta struct {
	Code  string
	Delta int64
}

// NormalizePlatformCode trims and uppercases raw input; "" means no affiliation.
func NormalizePlatformCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func optionalCode(code string) *string {
	if code == "" {
		return nil
	}
	value := code
	return &value
}
