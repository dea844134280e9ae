package rewards

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ClaimAnalytics summarizes the ledger for one reward code.
type ClaimAnalytics struct {
	Code             string          `json:"code"`
	TotalClaimed     decimal.Decimal `json:"totalClaimed"`
	NumClaims        int             `json:"numClaims"`
	NumClaimers      int             `json:"numClaimers"`
	FirstClaimAt     *time.Time      `json:"firstClaimAt,omitempty"`
	TimeToFirstClaim *time.Duration  `json:"timeToFirstClaimNanos,omitempty"`
}

// ClaimAnalytics scans the ledger for code. A code with no claims yields zero totals.
func (s *Service) ClaimAnalytics(ctx context.Context, rawCode string) (ClaimAnalytics, error) {
	code := NormalizeCode(rawCode)
	claims, err := s.ListClaims(ctx, code)
	if err != nil {
		return ClaimAnalytics{}, err
	}
	return summarizeClaims(code, claims), nil
}

func summarizeClaims(code string, claims []RewardClaim) ClaimAnalytics {
	summary := ClaimAnalytics{Code: code, TotalClaimed: decimal.Zero}
	claimers := make(map[string]struct{}, len(claims))
	for index := range claims {
		claim := claims[index]
		summary.TotalClaimed = summary.TotalClaimed.Add(claim.ClaimedAmount)
		summary.NumClaims++
		claimers[claim.UserID] = struct{}{}
		if summary.FirstClaimAt == nil || claim.ClaimedAt.Before(*summary.FirstClaimAt) {
			firstAt := claim.ClaimedAt
			elapsed := claim.ClaimedAt.Sub(claim.CodeCreatedAt)
			summary.FirstClaimAt = &firstAt
			summary.TimeToFirstClaim = &elapsed
		}
	}
	summary.NumClaimers = len(claimers)
	return summary
}

// ListClaims returns the ledger entries for code in claim order.
func (s *Service) ListClaims(ctx context.Context, rawCode string) ([]RewardClaim, error) {
	code := NormalizeCode(rawCode)
	var claims []RewardClaim
	if err := s.db.WithContext(ctx).
		Where("reward_code = ?", code).
		Order("claim_order ASC").
		Find(&claims).Error; err != nil {
		s.logError(opListClaims, "query_failed", err)
		return nil, newServiceError(opListClaims, "query_failed", err)
	}
	return claims, nil
}
