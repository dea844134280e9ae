package members

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Luciana501/koli-admin-sub001/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "members.db"),
	}, zap.NewNop(), Models()...)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	}
}

// countPlatformCodeWrites counts UPDATE statements issued against platform_codes.
func countPlatformCodeWrites(t *testing.T, db *gorm.DB) *int64 {
	t.Helper()
	var writes int64
	err := db.Callback().Update().After("gorm:update").Register("test:count_platform_code_writes", func(tx *gorm.DB) {
		if tx.Statement.Table == "platform_codes" {
			atomic.AddInt64(&writes, 1)
		}
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}
	return &writes
}

func mustCreatePlatformCode(t *testing.T, service *Service, code string) {
	t.Helper()
	if _, err := service.CreatePlatformCode(t.Context(), code, code+" partner"); err != nil {
		t.Fatalf("failed to create platform code %s: %v", code, err)
	}
}

func usageCount(t *testing.T, db *gorm.DB, code string) int64 {
	t.Helper()
	var stored PlatformCode
	if err := db.Where("code = ?", code).Take(&stored).Error; err != nil {
		t.Fatalf("failed to load platform code %s: %v", code, err)
	}
	return stored.UsageCount
}

func snapshot(memberID, code string) *MemberSnapshot {
	return &MemberSnapshot{MemberID: memberID, PlatformCode: code}
}
