package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Luciana501/koli-admin-sub001/internal/database"
	"github.com/Luciana501/koli-admin-sub001/internal/realtime"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GenerateRequest is the admin input for issuing a new reward code.
type GenerateRequest struct {
	Code      string
	Pool      decimal.Decimal
	ExpiresAt time.Time
}

// Generate replaces the active pool with a new code. The unspent balance of an
// unexpired predecessor rolls over into the new pool and the predecessor's history
// record is marked used.
func (s *Service) Generate(ctx context.Context, request GenerateRequest) (PoolSnapshot, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, opGenerate)
	defer span.End()

	code := NormalizeCode(request.Code)
	span.SetAttributes(attribute.String("reward.code", code), attribute.String("reward.pool", request.Pool.String()))

	if !rewardCodePattern.MatchString(code) {
		return PoolSnapshot{}, newServiceError(opGenerate, "invalid_code", ErrInvalidRewardCode)
	}
	if request.Pool.IsNegative() {
		return PoolSnapshot{}, newServiceError(opGenerate, "invalid_pool", ErrInvalidPool)
	}
	if err := validateStoredAmount(request.Pool); err != nil {
		return PoolSnapshot{}, newServiceError(opGenerate, "invalid_pool", err)
	}
	expiresAt := request.ExpiresAt.UTC()
	if !expiresAt.After(s.clock().UTC()) {
		return PoolSnapshot{}, newServiceError(opGenerate, "invalid_expiry", ErrInvalidExpiry)
	}

	var (
		created   RewardPool
		carryOver decimal.Decimal
		previous  string
	)
	_, err := database.RunInTransaction(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		carryOver = decimal.Zero
		previous = ""
		now := s.clock().UTC()
		if !expiresAt.After(now) {
			return ErrInvalidExpiry
		}

		var current RewardPool
		found := true
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", poolID).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			return err
		}

		if found && now.Before(current.ExpiresAt) {
			if current.ActiveCode == code {
				return ErrCodeStillActive
			}
			carryOver = current.RemainingPool
			if carryOver.IsNegative() {
				carryOver = decimal.Zero
			}
			previous = current.ActiveCode
			if err := tx.Model(&RewardHistoryRecord{}).
				Where("secret_code = ? AND status = ?", current.ActiveCode, StatusActive).
				Update("status", StatusUsed).Error; err != nil {
				return err
			}
		}

		var issued int64
		if err := tx.Model(&RewardHistoryRecord{}).Where("secret_code = ?", code).Count(&issued).Error; err != nil {
			return err
		}
		if issued > 0 {
			return ErrCodeAlreadyIssued
		}

		remaining := request.Pool.Add(carryOver)
		if err := validateStoredAmount(remaining); err != nil {
			return err
		}

		created = RewardPool{
			ID:            poolID,
			ActiveCode:    code,
			TotalPool:     request.Pool,
			RemainingPool: remaining,
			CreatedAt:     now,
			ExpiresAt:     expiresAt,
			UpdatedAt:     now,
			Version:       1,
		}
		if found {
			created.Version = current.Version + 1
			result := tx.Model(&RewardPool{}).
				Where("id = ? AND version = ?", poolID, current.Version).
				Updates(map[string]interface{}{
					"active_code":    created.ActiveCode,
					"total_pool":     created.TotalPool,
					"remaining_pool": created.RemainingPool,
					"created_at":     created.CreatedAt,
					"expires_at":     created.ExpiresAt,
					"updated_at":     created.UpdatedAt,
					"version":        created.Version,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: reward pool version %d", database.ErrWriteConflict, current.Version)
			}
		} else if err := tx.Create(&created).Error; err != nil {
			return err
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		return tx.Create(&RewardHistoryRecord{
			ID:         id,
			SecretCode: code,
			Pool:       request.Pool,
			CarryOver:  carryOver,
			CreatedAt:  now,
			ExpiresAt:  expiresAt,
			Status:     StatusActive,
		}).Error
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		switch {
		case errors.Is(err, ErrValidation):
			return PoolSnapshot{}, newServiceError(opGenerate, "rejected", err)
		default:
			s.logError(opGenerate, "transaction_failed", err, zap.String("reward_code", code))
			return PoolSnapshot{}, newServiceError(opGenerate, "transaction_failed", err)
		}
	}

	s.metrics.ObserveGenerate(carryOver.InexactFloat64())
	s.logger.Info("reward code generated",
		zap.String("reward_code", created.ActiveCode),
		zap.String("previous_code", previous),
		zap.String("pool", created.TotalPool.String()),
		zap.String("carry_over", carryOver.String()),
		zap.Time("expires_at", created.ExpiresAt))
	s.publish(realtime.EventRewardGenerated, created.ActiveCode)
	return created.snapshot(), nil
}

var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseExpiry accepts RFC 3339 timestamps plus the zone-less ISO 8601 forms an admin
// form submits. Zone-less values are read as UTC.
func ParseExpiry(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidExpiry)
	}
	for _, layout := range expiryLayouts {
		if parsed, err := time.ParseInLocation(layout, trimmed, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized timestamp %q", ErrInvalidExpiry, trimmed)
}

// SweepExpired stores the expired status on history records whose expiry has passed.
// Derived reads already report them as expired; the sweep keeps the stored column honest
// for consumers that read it directly.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	now := s.clock().UTC()

	var swept int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		swept = 0
		var candidates []RewardHistoryRecord
		if err := tx.Where("status IN ?", []string{string(StatusActive), string(StatusUsed)}).Find(&candidates).Error; err != nil {
			return err
		}
		ids := make([]string, 0, len(candidates))
		for _, record := range candidates {
			if !now.Before(record.ExpiresAt) {
				ids = append(ids, record.ID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		result := tx.Model(&RewardHistoryRecord{}).Where("id IN ?", ids).Update("status", StatusExpired)
		if result.Error != nil {
			return result.Error
		}
		swept = result.RowsAffected
		return nil
	})
	if txErr != nil {
		s.logError(opSweepExpired, "transaction_failed", txErr)
		return 0, newServiceError(opSweepExpired, "transaction_failed", txErr)
	}
	if swept > 0 {
		s.metrics.ObserveExpired(swept)
		s.logger.Info("reward codes expired", zap.Int64("count", swept))
		s.publish(realtime.EventRewardsExpired)
	}
	return swept, nil
}

// CurrentPool returns the active pool, or ErrRewardCodeNotFound when none was generated.
func (s *Service) CurrentPool(ctx context.Context) (PoolSnapshot, error) {
	pool, found, err := s.loadPool(s.db.WithContext(ctx))
	if err != nil {
		s.logError(opCurrentPool, "query_failed", err)
		return PoolSnapshot{}, newServiceError(opCurrentPool, "query_failed", err)
	}
	if !found {
		return PoolSnapshot{}, newServiceError(opCurrentPool, "pool_not_found", ErrRewardCodeNotFound)
	}
	return pool.snapshot(), nil
}

// ListHistory returns every issued code, newest first, with statuses derived at now.
func (s *Service) ListHistory(ctx context.Context) ([]HistoryEntry, error) {
	db := s.db.WithContext(ctx)
	var records []RewardHistoryRecord
	if err := db.Order("created_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		s.logError(opListHistory, "query_failed", err)
		return nil, newServiceError(opListHistory, "query_failed", err)
	}
	pool, found, err := s.loadPool(db)
	if err != nil {
		s.logError(opListHistory, "pool_query_failed", err)
		return nil, newServiceError(opListHistory, "pool_query_failed", err)
	}
	var livePool *RewardPool
	if found {
		livePool = &pool
	}

	now := s.clock().UTC()
	entries := make([]HistoryEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, HistoryEntry{
			SecretCode: record.SecretCode,
			Pool:       record.Pool,
			CarryOver:  record.CarryOver,
			CreatedAt:  record.CreatedAt,
			ExpiresAt:  record.ExpiresAt,
			Status:     DeriveStatus(record, livePool, now),
		})
	}
	return entries, nil
}

func (s *Service) loadPool(db *gorm.DB) (RewardPool, bool, error) {
	var pool RewardPool
	err := db.Where("id = ?", poolID).Take(&pool).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RewardPool{}, false, nil
	}
	if err != nil {
		return RewardPool{}, false, err
	}
	return pool, true, nil
}
