package rewards

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Luciana501/koli-admin-sub001/internal/database"
	"github.com/Luciana501/koli-admin-sub001/internal/members"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
}

type sequentialIDProvider struct {
	next int64
}

func (p *sequentialIDProvider) NewID() (string, error) {
	value := atomic.AddInt64(&p.next, 1)
	return fmt.Sprintf("id-%06d", value), nil
}

type testEnv struct {
	db      *gorm.DB
	clock   *testClock
	service *Service
}

func newTestEnv(t *testing.T, logger *zap.Logger) *testEnv {
	t.Helper()
	models := append(members.Models(), Models()...)
	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "rewards.db"),
	}, zap.NewNop(), models...)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	clock := newTestClock()
	service, err := NewService(ServiceConfig{
		Database:    db,
		Clock:       clock.Now,
		IDProvider:  &sequentialIDProvider{},
		RetryPolicy: database.RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond},
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return &testEnv{db: db, clock: clock, service: service}
}

func (e *testEnv) mustCreateMember(t *testing.T, id string) {
	t.Helper()
	now := e.clock.Now()
	member := members.Member{
		ID:            id,
		Balance:       decimal.Zero,
		TotalEarnings: decimal.Zero,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.db.Create(&member).Error; err != nil {
		t.Fatalf("failed to create member %s: %v", id, err)
	}
}

func (e *testEnv) mustGenerate(t *testing.T, code string, pool int64, ttl time.Duration) PoolSnapshot {
	t.Helper()
	snapshot, err := e.service.Generate(t.Context(), GenerateRequest{
		Code:      code,
		Pool:      decimal.NewFromInt(pool),
		ExpiresAt: e.clock.Now().Add(ttl),
	})
	if err != nil {
		t.Fatalf("failed to generate %s: %v", code, err)
	}
	return snapshot
}

func (e *testEnv) pool(t *testing.T) RewardPool {
	t.Helper()
	var pool RewardPool
	if err := e.db.Where("id = ?", poolID).Take(&pool).Error; err != nil {
		t.Fatalf("failed to load pool: %v", err)
	}
	return pool
}

func (e *testEnv) member(t *testing.T, id string) members.Member {
	t.Helper()
	var member members.Member
	if err := e.db.Where("id = ?", id).Take(&member).Error; err != nil {
		t.Fatalf("failed to load member %s: %v", id, err)
	}
	return member
}

func (e *testEnv) historyStatus(t *testing.T, code string) Status {
	t.Helper()
	var record RewardHistoryRecord
	if err := e.db.Where("secret_code = ?", code).Take(&record).Error; err != nil {
		t.Fatalf("failed to load history for %s: %v", code, err)
	}
	return record.Status
}

func (e *testEnv) claimCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(&RewardClaim{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count claims: %v", err)
	}
	return count
}

func amount(value int64) decimal.Decimal {
	return decimal.NewFromInt(value)
}

func requireDecimal(t *testing.T, label string, got decimal.Decimal, want int64) {
	t.Helper()
	if !got.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("%s = %s, want %d", label, got, want)
	}
}
