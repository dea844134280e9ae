package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeMemberPlatformCodes = "2026-10-01_normalize_member_platform_codes"
	migrationBackfillRewardHistoryStatus  = "2026-10-02_backfill_reward_history_status"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name   string
	tables []string
	apply  func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{
			name:   migrationNormalizeMemberPlatformCodes,
			tables: []string{"members"},
			apply:  normalizeMemberPlatformCodes,
		},
		{
			name:   migrationBackfillRewardHistoryStatus,
			tables: []string{"reward_history"},
			apply:  backfillRewardHistoryStatus,
		},
	}

	for _, migration := range migrations {
		if !tablesExist(db, migration.tables) {
			continue
		}
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func tablesExist(db *gorm.DB, tables []string) bool {
	for _, table := range tables {
		if !db.Migrator().HasTable(table) {
			return false
		}
	}
	return true
}

// normalizeMemberPlatformCodes rewrites legacy affiliation codes into the trimmed uppercase form
// the usage synchronizer compares against; blank codes become NULL.
func normalizeMemberPlatformCodes(tx *gorm.DB) error {
	if err := tx.Exec("UPDATE members SET platform_code_id = NULL WHERE platform_code_id IS NOT NULL AND TRIM(platform_code_id) = ''").Error; err != nil {
		return err
	}
	return tx.Exec("UPDATE members SET platform_code_id = UPPER(TRIM(platform_code_id)) WHERE platform_code_id IS NOT NULL").Error
}

func backfillRewardHistoryStatus(tx *gorm.DB) error {
	return tx.Exec("UPDATE reward_history SET status = 'active' WHERE status IS NULL OR status = ''").Error
}
