package rewards

import (
	"errors"
	"fmt"
)

// Error kinds. Specific errors below match their kind through errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInsufficientPool = errors.New("insufficient pool")
	ErrClaimFailed      = errors.New("claim failed")
	ErrValidation       = errors.New("validation failed")
	ErrExpired          = errors.New("expired")
)

var (
	ErrRewardCodeNotFound = kindError("reward code not found", ErrNotFound)
	ErrUserNotFound       = kindError("user not found", ErrNotFound)
	ErrNotEnoughPool      = kindError("not enough remaining pool", ErrInsufficientPool)
	ErrRewardCodeExpired  = kindError("reward code expired", ErrExpired)

	ErrInvalidUserID     = kindError("user id is required", ErrValidation)
	ErrMissingRewardCode = kindError("reward code is required", ErrValidation)
	ErrInvalidRewardCode = kindError("reward code must be 3 to 64 characters of A-Z, 0-9, '_' or '-'", ErrValidation)
	ErrInvalidAmount     = kindError("claim amount must be positive", ErrValidation)
	ErrAmountPrecision   = kindError("amounts allow at most 8 decimal places and 12 integer digits", ErrValidation)
	ErrInvalidPool       = kindError("pool must not be negative", ErrValidation)
	ErrInvalidExpiry     = kindError("expiry must be in the future", ErrValidation)
	ErrCodeStillActive   = kindError("reward code is already active", ErrValidation)
	ErrCodeAlreadyIssued = kindError("reward code was already issued", ErrValidation)

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

type classifiedError struct {
	message string
	kind    error
}

func kindError(message string, kind error) error {
	return &classifiedError{message: message, kind: kind}
}

func (e *classifiedError) Error() string {
	return e.message
}

func (e *classifiedError) Is(target error) bool {
	return target == e.kind
}

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
	opServiceNew   = "rewards.service.new"
	opClaim        = "rewards.claim"
	opGenerate     = "rewards.generate"
	opSweepExpired = "rewards.sweep_expired"
	opCurrentPool  = "rewards.current_pool"
	opListHistory  = "rewards.list_history"
	opListClaims   = "rewards.list_claims"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Message returns the client-facing text for err: the specific error it wraps when
// there is one, or the bare kind otherwise.
func Message(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.message
	}
	switch {
	case errors.Is(err, ErrClaimFailed):
		return ErrClaimFailed.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	}
	return "internal error"
}
