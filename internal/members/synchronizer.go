package members

import (
	"context"
	"errors"
	"time"

	"github.com/Luciana501/koli-admin-sub001/internal/database"
	"github.com/Luciana501/koli-admin-sub001/internal/metrics"
	"github.com/Luciana501/koli-admin-sub001/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opSynchronizerNew = "members.synchronizer.new"
	opApplyUsage      = "members.apply_usage"
	opRecountUsage    = "members.recount_usage"
)

// SynchronizerConfig describes the dependencies of the usage-counter synchronizer.
type SynchronizerConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	RetryPolicy database.RetryPolicy
	Logger      *zap.Logger
	Metrics     *metrics.Ledger
	Publisher   realtime.Publisher
}

// Synchronizer keeps PlatformCode.UsageCount in step with member affiliation changes
// by applying signed per-event deltas instead of recounting.
type Synchronizer struct {
	db        *gorm.DB
	clock     func() time.Time
	retry     database.RetryPolicy
	logger    *zap.Logger
	metrics   *metrics.Ledger
	publisher realtime.Publisher
}

func NewSynchronizer(cfg SynchronizerConfig) (*Synchronizer, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opSynchronizerNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	retry := cfg.RetryPolicy
	if retry.MaxAttempts == 0 {
		retry = database.DefaultRetryPolicy()
	}
	return &Synchronizer{
		db:        cfg.Database,
		clock:     clock,
		retry:     retry,
		logger:    logger,
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
	}, nil
}

// Apply adjusts the usage counters named by the event's deltas in one transaction and
// returns the deltas that landed on known codes. Unknown codes are skipped.
func (s *Synchronizer) Apply(ctx context.Context, event ChangeEvent) ([]UsageDelta, error) {
	deltas := ComputeUsageDeltas(event)
	if len(deltas) == 0 {
		return nil, nil
	}

	var applied []UsageDelta
	_, err := database.RunInTransaction(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		var err error
		applied, err = s.applyDeltas(tx, deltas)
		return err
	})
	if err != nil {
		return nil, newServiceError(opApplyUsage, "transaction_failed", err)
	}
	return applied, nil
}

// HandleMemberChange applies the event inside the member write's transaction, behind a
// savepoint. A failure rolls back only the counter updates: it is logged and counted,
// never returned, so it cannot fail the member write. It returns the adjusted codes.
func (s *Synchronizer) HandleMemberChange(ctx context.Context, tx *gorm.DB, event ChangeEvent) []string {
	deltas := ComputeUsageDeltas(event)
	if len(deltas) == 0 {
		s.metrics.ObserveUsageSync(metrics.UsageSyncNoop)
		return nil
	}

	var applied []UsageDelta
	err := tx.WithContext(ctx).Transaction(func(savepoint *gorm.DB) error {
		var err error
		applied, err = s.applyDeltas(savepoint, deltas)
		return err
	})
	if err != nil {
		s.metrics.ObserveUsageSync(metrics.UsageSyncFailed)
		s.logger.Error("usage counter sync failed",
			zap.String("operation", opApplyUsage),
			zap.String("member_id", event.MemberID()),
			zap.Error(err))
		return nil
	}
	if len(applied) == 0 {
		s.metrics.ObserveUsageSync(metrics.UsageSyncNoop)
		return nil
	}
	s.metrics.ObserveUsageSync(metrics.UsageSyncApplied)

	codes := make([]string, 0, len(applied))
	for _, delta := range applied {
		codes = append(codes, delta.Code)
	}
	s.logger.Debug("usage counters adjusted",
		zap.String("member_id", event.MemberID()),
		zap.Strings("codes", codes))
	return codes
}

func (s *Synchronizer) applyDeltas(tx *gorm.DB, deltas []UsageDelta) ([]UsageDelta, error) {
	applied := make([]UsageDelta, 0, len(deltas))
	now := s.clock().UTC()
	for _, delta := range deltas {
		var code PlatformCode
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ?", delta.Code).
			Take(&code).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		next := clampUsage(code.UsageCount, delta.Delta)
		if err := tx.Model(&PlatformCode{}).
			Where("code = ?", delta.Code).
			Updates(map[string]interface{}{
				"usage_count": next,
				"updated_at":  now,
			}).Error; err != nil {
			return nil, err
		}
		applied = append(applied, delta)
	}
	return applied, nil
}

// RecountResult summarizes a full usage reconciliation.
type RecountResult struct {
	Codes     int
	Corrected int
}

// Recount recomputes every usage counter from the members table. It repairs drift left
// by synchronizer failures, which are isolated from member writes and never retried.
func (s *Synchronizer) Recount(ctx context.Context) (RecountResult, error) {
	var (
		result    RecountResult
		corrected []string
	)
	_, err := database.RunInTransaction(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		result = RecountResult{}
		corrected = corrected[:0]

		var codes []PlatformCode
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Order("code").Find(&codes).Error; err != nil {
			return err
		}

		type codeTotal struct {
			Code  string
			Total int64
		}
		var totals []codeTotal
		if err := tx.Model(&Member{}).
			Select("platform_code_id AS code, COUNT(*) AS total").
			Where("platform_code_id IS NOT NULL").
			Group("platform_code_id").
			Scan(&totals).Error; err != nil {
			return err
		}
		counts := make(map[string]int64, len(totals))
		for _, total := range totals {
			counts[NormalizePlatformCode(total.Code)] += total.Total
		}

		now := s.clock().UTC()
		for _, code := range codes {
			result.Codes++
			actual := counts[code.Code]
			if actual == code.UsageCount {
				continue
			}
			if err := tx.Model(&PlatformCode{}).
				Where("code = ?", code.Code).
				Updates(map[string]interface{}{
					"usage_count": actual,
					"updated_at":  now,
				}).Error; err != nil {
				return err
			}
			result.Corrected++
			corrected = append(corrected, code.Code)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("usage recount failed", zap.String("operation", opRecountUsage), zap.Error(err))
		return RecountResult{}, newServiceError(opRecountUsage, "transaction_failed", err)
	}
	s.logger.Info("usage counters reconciled",
		zap.Int("codes", result.Codes),
		zap.Int("corrected", result.Corrected))
	if len(corrected) > 0 && s.publisher != nil {
		s.publisher.Publish(realtime.Message{
			Channel:   realtime.ChannelAdmin,
			EventType: realtime.EventUsageChanged,
			Subjects:  corrected,
			Timestamp: s.clock().UTC(),
		})
	}
	return result, nil
}
