package rewards

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Luciana501/koli-admin-sub001/internal/database"
	"github.com/Luciana501/koli-admin-sub001/internal/members"
	"github.com/Luciana501/koli-admin-sub001/internal/metrics"
	"github.com/Luciana501/koli-admin-sub001/internal/realtime"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	tracerName    = "github.com/Luciana501/koli-admin-sub001/internal/rewards"
	maxUserIDSize = 190

	// amountScale matches the decimal(20,8) amount columns.
	amountScale = 8
)

var (
	rewardCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,64}$`)
	amountLimit       = decimal.New(1, 12)
	noOpLogger        = zap.NewNop()
)

type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  IDProvider
	RetryPolicy database.RetryPolicy
	Logger      *zap.Logger
	Metrics     *metrics.Ledger
	Publisher   realtime.Publisher
}

// Service coordinates reward claims and the reward code lifecycle.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	retry      database.RetryPolicy
	logger     *zap.Logger
	metrics    *metrics.Ledger
	publisher  realtime.Publisher
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
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

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		retry:      retry,
		logger:     logger,
		metrics:    cfg.Metrics,
		publisher:  cfg.Publisher,
	}, nil
}

// NormalizeCode trims and uppercases a reward code.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Claim credits amount from the active pool to userID's balance and appends a ledger
// entry. The pool, member and ledger writes commit together; the body is re-run from
// scratch when a concurrent writer wins the pool or member version.
func (s *Service) Claim(ctx context.Context, userID, rawCode string, amount decimal.Decimal) (RewardClaim, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, opClaim)
	defer span.End()

	userID = strings.TrimSpace(userID)
	code := NormalizeCode(rawCode)
	span.SetAttributes(
		attribute.String("reward.code", code),
		attribute.String("reward.user_id", userID),
		attribute.String("reward.amount", amount.String()),
	)

	if err := validateClaim(userID, code, amount); err != nil {
		s.metrics.ObserveClaim(metrics.ClaimOutcomeInvalid, 0, 0)
		return RewardClaim{}, newServiceError(opClaim, "invalid_input", err)
	}

	var (
		claim    RewardClaim
		depleted bool
	)
	attempts, err := database.RunInTransaction(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		claim = RewardClaim{}
		depleted = false
		now := s.clock().UTC()

		var pool RewardPool
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", poolID).Take(&pool).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRewardCodeNotFound
		}
		if err != nil {
			return err
		}
		if pool.ActiveCode != code {
			return ErrRewardCodeNotFound
		}
		if !now.Before(pool.ExpiresAt) {
			return ErrRewardCodeExpired
		}

		var member members.Member
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).Take(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&RewardClaim{}).Where("reward_code = ?", code).Count(&existing).Error; err != nil {
			return err
		}

		if pool.RemainingPool.LessThan(amount) {
			return ErrNotEnoughPool
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			return err
		}
		claim = RewardClaim{
			ID:            id,
			UserID:        member.ID,
			RewardCode:    code,
			ClaimOrder:    existing + 1,
			ClaimedAmount: amount,
			ClaimedAt:     now,
			CodeCreatedAt: pool.CreatedAt,
		}
		if err := tx.Create(&claim).Error; err != nil {
			if database.IsDuplicateKey(err) {
				return fmt.Errorf("%w: claim order %d taken", database.ErrWriteConflict, claim.ClaimOrder)
			}
			return err
		}

		remaining := pool.RemainingPool.Sub(amount)
		result := tx.Model(&RewardPool{}).
			Where("id = ? AND version = ?", poolID, pool.Version).
			Updates(map[string]interface{}{
				"remaining_pool": remaining,
				"updated_at":     now,
				"version":        pool.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: reward pool version %d", database.ErrWriteConflict, pool.Version)
		}

		result = tx.Model(&members.Member{}).
			Where("id = ? AND version = ?", member.ID, member.Version).
			Updates(map[string]interface{}{
				"balance":        member.Balance.Add(amount),
				"total_earnings": member.TotalEarnings.Add(amount),
				"version":        member.Version + 1,
				"updated_at":     now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: member %s version %d", database.ErrWriteConflict, member.ID, member.Version)
		}

		if !remaining.IsPositive() {
			if err := tx.Model(&RewardHistoryRecord{}).
				Where("secret_code = ?", code).
				Update("status", StatusDepleted).Error; err != nil {
				return err
			}
			depleted = true
		}
		return nil
	})
	if err != nil {
		outcome, reason, surfaced := classifyClaimError(err)
		s.metrics.ObserveClaim(outcome, 0, attempts)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		if outcome == metrics.ClaimOutcomeFailed {
			s.logError(opClaim, reason, err,
				zap.String("user_id", userID),
				zap.String("reward_code", code),
				zap.Int("attempts", attempts))
		}
		return RewardClaim{}, newServiceError(opClaim, reason, surfaced)
	}

	s.metrics.ObserveClaim(metrics.ClaimOutcomeSuccess, amount.InexactFloat64(), attempts)
	span.SetAttributes(attribute.Int64("reward.claim_order", claim.ClaimOrder), attribute.Int("reward.attempts", attempts))
	s.logger.Info("reward claimed",
		zap.String("user_id", claim.UserID),
		zap.String("reward_code", claim.RewardCode),
		zap.String("amount", claim.ClaimedAmount.String()),
		zap.Int64("claim_order", claim.ClaimOrder),
		zap.Bool("depleted", depleted),
		zap.Int("attempts", attempts))
	s.publish(realtime.EventRewardClaimed, claim.RewardCode, claim.UserID)
	return claim, nil
}

func validateClaim(userID, code string, amount decimal.Decimal) error {
	if userID == "" || len(userID) > maxUserIDSize {
		return ErrInvalidUserID
	}
	if code == "" {
		return ErrMissingRewardCode
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return validateStoredAmount(amount)
}

// validateStoredAmount rejects values the amount columns would round or overflow, so
// what is credited to a member always equals what is debited from the pool.
func validateStoredAmount(amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(amountScale)) {
		return ErrAmountPrecision
	}
	if amount.Abs().GreaterThanOrEqual(amountLimit) {
		return ErrAmountPrecision
	}
	return nil
}

// classifyClaimError maps a failed claim transaction to its metric outcome, log reason
// and the error surfaced to callers. Anything that is not a definitive business
// rejection becomes ErrClaimFailed.
func classifyClaimError(err error) (string, string, error) {
	switch {
	case errors.Is(err, ErrRewardCodeNotFound):
		return metrics.ClaimOutcomeNotFound, "reward_code_not_found", err
	case errors.Is(err, ErrUserNotFound):
		return metrics.ClaimOutcomeNotFound, "user_not_found", err
	case errors.Is(err, ErrInsufficientPool):
		return metrics.ClaimOutcomeInsufficient, "insufficient_pool", err
	case errors.Is(err, ErrExpired):
		return metrics.ClaimOutcomeExpired, "reward_code_expired", err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ClaimOutcomeFailed, "context_done", fmt.Errorf("%w: %v", ErrClaimFailed, err)
	case errors.Is(err, database.ErrRetriesExhausted):
		return metrics.ClaimOutcomeFailed, "retries_exhausted", fmt.Errorf("%w: %v", ErrClaimFailed, err)
	default:
		return metrics.ClaimOutcomeFailed, "transaction_failed", fmt.Errorf("%w: %v", ErrClaimFailed, err)
	}
}

func (s *Service) publish(eventType string, subjects ...string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(realtime.Message{
		Channel:   realtime.ChannelAdmin,
		EventType: eventType,
		Subjects:  subjects,
		Timestamp: s.clock().UTC(),
	})
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("rewards service error", attrs...)
}
