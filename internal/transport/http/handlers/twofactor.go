package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learnonline/admin-iam/internal/transport/http/middleware"
	"github.com/learnonline/admin-iam/internal/usecase"
)

// TwoFactorHandler exposes the authenticated enrollment endpoints.
type TwoFactorHandler struct {
	twofactor *usecase.TwoFactorService
}

// NewTwoFactorHandler constructs TwoFactorHandler.
func NewTwoFactorHandler(twofactor *usecase.TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{twofactor: twofactor}
}

// RegisterRoutes binds the enrollment routes behind the supplied auth middleware.
func (h *TwoFactorHandler) RegisterRoutes(r *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	r.POST("/2fa/setup", authMiddleware, h.setup)
	r.POST("/2fa/activate", authMiddleware, h.activate)
}

// setup returns the secret, provisioning URL, and raw recovery codes exactly
// once; only hashes are stored.
func (h *TwoFactorHandler) setup(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	result, err := h.twofactor.Setup(c.Request.Context(), accountID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
			{Err: usecase.ErrTwoFactorAlreadyEnabled, Status: http.StatusConflict, Message: "two-factor already enabled"},
		}, http.StatusInternalServerError, "failed to start two-factor setup")
		return
	}

	c.JSON(http.StatusOK, TwoFactorSetupResponse{
		Secret:        result.Secret,
		URL:           result.URL,
		RecoveryCodes: result.RecoveryCodes,
	})
}

func (h *TwoFactorHandler) activate(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TwoFactorActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid activation payload"))
		return
	}

	if err := h.twofactor.Activate(c.Request.Context(), accountID, req.Code); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
			{Err: usecase.ErrTwoFactorAlreadyEnabled, Status: http.StatusConflict, Message: "two-factor already enabled"},
			{Err: usecase.ErrTwoFactorNotPending, Status: http.StatusConflict, Message: "two-factor setup not started"},
			{Err: usecase.ErrActivationCodeInvalid, Status: http.StatusBadRequest, Message: "invalid activation code"},
		}, http.StatusInternalServerError, "failed to activate two-factor")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "two-factor enabled"})
}
