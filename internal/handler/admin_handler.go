package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smorting-auth/internal/models"
	appErrors "github.com/noah-isme/smorting-auth/pkg/errors"
	"github.com/noah-isme/smorting-auth/pkg/response"
)

type securityAdminService interface {
	RevokeOnSecurityEvent(ctx context.Context, userID, reason string, meta models.RequestMeta) error
	LockoutStatus(ctx context.Context, account, ip string) (*models.LockoutStatus, error)
}

// AdminHandler exposes security operations for fraud tooling and support staff.
type AdminHandler struct {
	service securityAdminService
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(svc securityAdminService) *AdminHandler {
	return &AdminHandler{service: svc}
}

// RevokeUser godoc
// @Summary Revoke all sessions of a user
// @Description Called on external fraud signals
// @Tags Security
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.RevokeRequest true "Revocation payload"
// @Success 204
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/security/revoke [post]
func (h *AdminHandler) RevokeUser(c *gin.Context) {
	var req models.RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid revocation payload"))
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Reason) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "userId and reason are required"))
		return
	}
	if !validID(req.UserID) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "userId must be a UUID"))
		return
	}

	if err := h.service.RevokeOnSecurityEvent(c.Request.Context(), req.UserID, req.Reason, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Lockouts godoc
// @Summary Lockout status
// @Tags Security
// @Produce json
// @Security BearerAuth
// @Param account query string false "Account email"
// @Param ip query string false "Source IP"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/lockouts [get]
func (h *AdminHandler) Lockouts(c *gin.Context) {
	account := c.Query("account")
	ip := c.Query("ip")
	if account == "" && ip == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "account or ip is required"))
		return
	}
	status, err := h.service.LockoutStatus(c.Request.Context(), account, ip)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status)
}
