package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Luciana501/koli-admin-sub001/internal/rewards"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type claimRequestPayload struct {
	RewardCode string          `json:"reward_code"`
	Amount     decimal.Decimal `json:"amount"`
	UserID     string          `json:"user_id"`
}

type generateRequestPayload struct {
	Code      string          `json:"code"`
	Pool      decimal.Decimal `json:"pool"`
	ExpiresAt string          `json:"expires_at"`
}

type historyResponsePayload struct {
	History []rewards.HistoryEntry `json:"history"`
}

type claimsResponsePayload struct {
	Claims []rewards.RewardClaim `json:"claims"`
}

func (h *httpHandler) handleClaim(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request claimRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	userID := principal.Subject
	if override := strings.TrimSpace(request.UserID); override != "" && override != principal.Subject {
		if !principal.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		userID = override
	}

	claim, err := h.rewards.Claim(c.Request.Context(), userID, request.RewardCode, request.Amount)
	if err != nil {
		h.writeRewardsError(c, "claim", err)
		return
	}
	c.JSON(http.StatusCreated, claim)
}

func (h *httpHandler) handleGenerate(c *gin.Context) {
	var request generateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	expiresAt, err := rewards.ParseExpiry(request.ExpiresAt)
	if err != nil {
		h.writeRewardsError(c, "generate", err)
		return
	}

	snapshot, err := h.rewards.Generate(c.Request.Context(), rewards.GenerateRequest{
		Code:      request.Code,
		Pool:      request.Pool,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		h.writeRewardsError(c, "generate", err)
		return
	}
	c.JSON(http.StatusCreated, snapshot)
}

func (h *httpHandler) handleCurrentPool(c *gin.Context) {
	snapshot, err := h.rewards.CurrentPool(c.Request.Context())
	if err != nil {
		h.writeRewardsError(c, "current_pool", err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	history, err := h.rewards.ListHistory(c.Request.Context())
	if err != nil {
		h.writeRewardsError(c, "history", err)
		return
	}
	c.JSON(http.StatusOK, historyResponsePayload{History: history})
}

func (h *httpHandler) handleAnalytics(c *gin.Context) {
	summary, err := h.rewards.ClaimAnalytics(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeRewardsError(c, "analytics", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleListClaims(c *gin.Context) {
	claims, err := h.rewards.ListClaims(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeRewardsError(c, "list_claims", err)
		return
	}
	c.JSON(http.StatusOK, claimsResponsePayload{Claims: claims})
}

func (h *httpHandler) writeRewardsError(c *gin.Context, action string, err error) {
	status := rewardsErrorStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("rewards request failed", zap.String("action", action), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": rewards.Message(err)})
}

// rewardsErrorStatus maps error kinds onto HTTP statuses. ErrClaimFailed is a transient
// conflict the caller may retry.
func rewardsErrorStatus(err error) int {
	switch {
	case errors.Is(err, rewards.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, rewards.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rewards.ErrInsufficientPool):
		return http.StatusConflict
	case errors.Is(err, rewards.ErrExpired):
		return http.StatusGone
	case errors.Is(err, rewards.ErrClaimFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
