package server

import (
	"errors"
	"net/http"

	"github.com/Luciana501/koli-admin-sub001/internal/members"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createMemberRequestPayload struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Email        string `json:"email"`
	PlatformCode string `json:"platform_code"`
}

type platformCodeRequestPayload struct {
	PlatformCode string `json:"platform_code"`
}

type createPlatformCodeRequestPayload struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type platformCodesResponsePayload struct {
	PlatformCodes []members.PlatformCode `json:"platform_codes"`
}

type recountResponsePayload struct {
	Codes     int `json:"codes"`
	Corrected int `json:"corrected"`
}

func (h *httpHandler) handleCreateMember(c *gin.Context) {
	var request createMemberRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	member, err := h.members.CreateMember(c.Request.Context(), members.NewMember{
		ID:           request.ID,
		DisplayName:  request.DisplayName,
		Email:        request.Email,
		PlatformCode: request.PlatformCode,
	})
	if err != nil {
		h.writeMembersError(c, "create_member", err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *httpHandler) handleGetMember(c *gin.Context) {
	member, err := h.members.GetMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeMembersError(c, "get_member", err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *httpHandler) handleUpdatePlatformCode(c *gin.Context) {
	var request platformCodeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	member, err := h.members.UpdatePlatformCode(c.Request.Context(), c.Param("id"), request.PlatformCode)
	if err != nil {
		h.writeMembersError(c, "update_platform_code", err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *httpHandler) handleDeleteMember(c *gin.Context) {
	if err := h.members.DeleteMember(c.Request.Context(), c.Param("id")); err != nil {
		h.writeMembersError(c, "delete_member", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCreatePlatformCode(c *gin.Context) {
	var request createPlatformCodeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	code, err := h.members.CreatePlatformCode(c.Request.Context(), request.Code, request.Name)
	if err != nil {
		h.writeMembersError(c, "create_platform_code", err)
		return
	}
	c.JSON(http.StatusCreated, code)
}

func (h *httpHandler) handleListPlatformCodes(c *gin.Context) {
	codes, err := h.members.ListPlatformCodes(c.Request.Context())
	if err != nil {
		h.writeMembersError(c, "list_platform_codes", err)
		return
	}
	c.JSON(http.StatusOK, platformCodesResponsePayload{PlatformCodes: codes})
}

func (h *httpHandler) handleRecount(c *gin.Context) {
	result, err := h.usage.Recount(c.Request.Context())
	if err != nil {
		h.writeMembersError(c, "recount_usage", err)
		return
	}
	c.JSON(http.StatusOK, recountResponsePayload{Codes: result.Codes, Corrected: result.Corrected})
}

func (h *httpHandler) writeMembersError(c *gin.Context, action string, err error) {
	status := membersErrorStatus(err)
	switch status {
	case http.StatusBadRequest:
		c.JSON(status, gin.H{"error": "invalid_request"})
	case http.StatusInternalServerError:
		h.logger.Error("members request failed", zap.String("action", action), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
	default:
		c.JSON(status, gin.H{"error": membersErrorMessage(err)})
	}
}

func membersErrorStatus(err error) int {
	switch {
	case errors.Is(err, members.ErrMemberNotFound):
		return http.StatusNotFound
	case errors.Is(err, members.ErrMemberExists), errors.Is(err, members.ErrPlatformCodeExists):
		return http.StatusConflict
	case errors.Is(err, members.ErrInvalidMemberID), errors.Is(err, members.ErrInvalidPlatformCode):
		return http.StatusBadRequest
	case errors.Is(err, members.ErrMemberBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func membersErrorMessage(err error) string {
	for _, known := range []error{
		members.ErrMemberNotFound,
		members.ErrMemberExists,
		members.ErrPlatformCodeExists,
		members.ErrMemberBusy,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}
