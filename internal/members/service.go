package members

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Luciana501/koli-admin-sub001/internal/database"
	"github.com/Luciana501/koli-admin-sub001/internal/realtime"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMemberNotFound indicates that no member exists for the identifier.
	ErrMemberNotFound = errors.New("user not found")
	// ErrMemberExists indicates a create for an identifier that is already taken.
	ErrMemberExists = errors.New("member already exists")
	// ErrInvalidMemberID indicates an empty or oversized member identifier.
	ErrInvalidMemberID = errors.New("members: invalid member id")
	// ErrInvalidPlatformCode indicates a platform code that is empty or oversized after normalization.
	ErrInvalidPlatformCode = errors.New("members: invalid platform code")
	// ErrPlatformCodeExists indicates a duplicate platform code.
	ErrPlatformCodeExists = errors.New("platform code already exists")
	// ErrMemberBusy indicates a member write that kept losing to concurrent writers.
	ErrMemberBusy = errors.New("member changed concurrently, retry later")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew         = "members.service.new"
	opCreateMember       = "members.create_member"
	opGetMember          = "members.get_member"
	opUpdatePlatformCode = "members.update_platform_code"
	opDeleteMember       = "members.delete_member"
	opCreatePlatformCode = "members.create_platform_code"
	opListPlatformCodes  = "members.list_platform_codes"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ChangeHandler sees every member write inside its transaction, after the member row
// is written. Implementations must absorb their own failures without poisoning tx and
// return the platform codes whose usage they changed.
type ChangeHandler interface {
	HandleMemberChange(ctx context.Context, tx *gorm.DB, event ChangeEvent) []string
}

type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	RetryPolicy   database.RetryPolicy
	Logger        *zap.Logger
	ChangeHandler ChangeHandler
	Publisher     realtime.Publisher
}

// Service owns member and platform code records.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	retry     database.RetryPolicy
	logger    *zap.Logger
	handler   ChangeHandler
	publisher realtime.Publisher
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
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
		db:        cfg.Database,
		clock:     clock,
		retry:     retry,
		logger:    logger,
		handler:   cfg.ChangeHandler,
		publisher: cfg.Publisher,
	}, nil
}

// NewMember is the admin input for creating a member.
type NewMember struct {
	ID           string
	DisplayName  string
	Email        string
	PlatformCode string
}

func (s *Service) CreateMember(ctx context.Context, input NewMember) (Member, error) {
	memberID, err := normalizeMemberID(input.ID)
	if err != nil {
		return Member{}, newServiceError(opCreateMember, "invalid_member_id", err)
	}
	code, err := normalizeOptionalCode(input.PlatformCode)
	if err != nil {
		return Member{}, newServiceError(opCreateMember, "invalid_platform_code", err)
	}

	now := s.clock().UTC()
	member := Member{
		ID:             memberID,
		DisplayName:    strings.TrimSpace(input.DisplayName),
		Email:          strings.TrimSpace(input.Email),
		PlatformCodeID: optionalCode(code),
		Balance:        decimal.Zero,
		TotalEarnings:  decimal.Zero,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	event := ChangeEvent{After: member.Snapshot()}
	var changed []string
	_, txErr := database.RunInTransaction(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		changed = nil
		if err := tx.Create(&member).Error; err != nil {
			if database.IsDuplicateKey(err) {
				return newServiceError(opCreateMember, "member_exists", ErrMemberExists)
			}
			return err
		}
		changed = s.syncUsage(ctx, tx, event)
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrMemberExists) {
			return Member{}, txErr
		}
		s.logError(opCreateMember, "insert_failed", txErr, zap.String("member_id", memberID))
		return Member{}, newServiceError(opCreateMember, "insert_failed", txErr)
	}

	s.notify(event, changed)
	return member, nil
}

func (s *Service) GetMember(ctx context.Context, memberID string) (Member, error) {
	var member Member
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(memberID)).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Member{}, newServiceError(opGetMember, "member_not_found", ErrMemberNotFound)
	}
	if err != nil {
		s.logError(opGetMember, "query_failed", err, zap.String("member_id", memberID))
		return Member{}, newServiceError(opGetMember, "query_failed", err)
	}
	return member, nil
}

// UpdatePlatformCode links the member to rawCode, or unlinks it when rawCode is blank.
func (s *Service) UpdatePlatformCode(ctx context.Context, memberID, rawCode string) (Member, error) {
	code, err := normalizeOptionalCode(rawCode)
	if err != nil {
		return Member{}, newServiceError(opUpdatePlatformCode, "invalid_platform_code", err)
	}

	var (
		before, after Member
		changed       []string
	)
	_, txErr := database.RunInTransaction(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		before, after, changed = Member{}, Member{}, nil
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", strings.TrimSpace(memberID)).
			Take(&before).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdatePlatformCode, "member_not_found", ErrMemberNotFound)
		}
		if err != nil {
			return newServiceError(opUpdatePlatformCode, "member_select_failed", err)
		}

		after = before
		after.PlatformCodeID = optionalCode(code)
		after.Version = before.Version + 1
		after.UpdatedAt = s.clock().UTC()
		result := tx.Model(&Member{}).
			Where("id = ? AND version = ?", before.ID, before.Version).
			Updates(map[string]interface{}{
				"platform_code_id": after.PlatformCodeID,
				"version":          after.Version,
				"updated_at":       after.UpdatedAt,
			})
		if result.Error != nil {
			return newServiceError(opUpdatePlatformCode, "member_update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: member %s version %d", database.ErrWriteConflict, before.ID, before.Version)
		}
		changed = s.syncUsage(ctx, tx, ChangeEvent{Before: before.Snapshot(), After: after.Snapshot()})
		return nil
	})
	if txErr != nil {
		return Member{}, s.writeFailure(opUpdatePlatformCode, memberID, txErr)
	}

	s.notify(ChangeEvent{Before: before.Snapshot(), After: after.Snapshot()}, changed)
	return after, nil
}

func (s *Service) DeleteMember(ctx context.Context, memberID string) error {
	var (
		existing Member
		changed  []string
	)
	_, txErr := database.RunInTransaction(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		existing, changed = Member{}, nil
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", strings.TrimSpace(memberID)).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDeleteMember, "member_not_found", ErrMemberNotFound)
		}
		if err != nil {
			return newServiceError(opDeleteMember, "member_select_failed", err)
		}
		if err := tx.Where("id = ?", existing.ID).Delete(&Member{}).Error; err != nil {
			return newServiceError(opDeleteMember, "member_delete_failed", err)
		}
		changed = s.syncUsage(ctx, tx, ChangeEvent{Before: existing.Snapshot()})
		return nil
	})
	if txErr != nil {
		return s.writeFailure(opDeleteMember, memberID, txErr)
	}

	s.notify(ChangeEvent{Before: existing.Snapshot()}, changed)
	return nil
}

// CreatePlatformCode registers an affiliation code. Its usage count starts at the number
// of members already linked to it, since earlier deltas for an unknown code were dropped.
// Member writes apply their deltas in their own transaction, so the count must not run
// while one is in flight: SQLite serializes on its single connection and PostgreSQL
// takes a SHARE lock on members, which waits out concurrent member writers.
func (s *Service) CreatePlatformCode(ctx context.Context, rawCode, name string) (PlatformCode, error) {
	code := NormalizePlatformCode(rawCode)
	if code == "" || len(code) > maxPlatformCodeLength {
		return PlatformCode{}, newServiceError(opCreatePlatformCode, "invalid_platform_code", ErrInvalidPlatformCode)
	}

	var created PlatformCode
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == database.DriverPostgres {
			if err := tx.Exec("LOCK TABLE members IN SHARE MODE").Error; err != nil {
				return err
			}
		}
		var linked int64
		if err := tx.Model(&Member{}).Where("platform_code_id = ?", code).Count(&linked).Error; err != nil {
			return err
		}
		now := s.clock().UTC()
		created = PlatformCode{
			Code:       code,
			Name:       strings.TrimSpace(name),
			UsageCount: linked,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.Create(&created).Error
	})
	if txErr != nil {
		if database.IsDuplicateKey(txErr) {
			return PlatformCode{}, newServiceError(opCreatePlatformCode, "platform_code_exists", ErrPlatformCodeExists)
		}
		s.logError(opCreatePlatformCode, "transaction_failed", txErr, zap.String("code", code))
		return PlatformCode{}, newServiceError(opCreatePlatformCode, "transaction_failed", txErr)
	}
	return created, nil
}

// ListPlatformCodes returns every platform code ordered by code.
func (s *Service) ListPlatformCodes(ctx context.Context) ([]PlatformCode, error) {
	var codes []PlatformCode
	if err := s.db.WithContext(ctx).Order("code ASC").Find(&codes).Error; err != nil {
		s.logError(opListPlatformCodes, "query_failed", err)
		return nil, newServiceError(opListPlatformCodes, "query_failed", err)
	}
	return codes, nil
}

func (s *Service) syncUsage(ctx context.Context, tx *gorm.DB, event ChangeEvent) []string {
	if s.handler == nil {
		return nil
	}
	return s.handler.HandleMemberChange(ctx, tx, event)
}

// notify publishes a committed member write and the usage counters it moved.
func (s *Service) notify(event ChangeEvent, usageChanged []string) {
	if s.publisher == nil {
		return
	}
	now := s.clock().UTC()
	s.publisher.Publish(realtime.Message{
		Channel:   realtime.ChannelAdmin,
		EventType: realtime.EventMemberChanged,
		Subjects:  []string{event.MemberID()},
		Timestamp: now,
	})
	if len(usageChanged) > 0 {
		s.publisher.Publish(realtime.Message{
			Channel:   realtime.ChannelAdmin,
			EventType: realtime.EventUsageChanged,
			Subjects:  usageChanged,
			Timestamp: now,
		})
	}
}

func (s *Service) writeFailure(operation, memberID string, err error) error {
	switch {
	case errors.Is(err, ErrMemberNotFound):
		return err
	case errors.Is(err, database.ErrRetriesExhausted):
		s.logError(operation, "retries_exhausted", err, zap.String("member_id", memberID))
		return newServiceError(operation, "retries_exhausted", fmt.Errorf("%w: %v", ErrMemberBusy, err))
	default:
		s.logError(operation, "transaction_failed", err, zap.String("member_id", memberID))
		return err
	}
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
	s.logger.Error("members service error", attrs...)
}

func normalizeMemberID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMemberID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidMemberID, maxIdentifierLength)
	}
	return trimmed, nil
}

func normalizeOptionalCode(raw string) (string, error) {
	code := NormalizePlatformCode(raw)
	if len(code) > maxPlatformCodeLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPlatformCode, maxPlatformCodeLength)
	}
	return code, nil
}
