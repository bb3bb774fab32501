package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learnonline/admin-iam/internal/usecase"
)

// RegistrationHandler exposes account creation.
type RegistrationHandler struct {
	registration *usecase.RegistrationService
}

// NewRegistrationHandler constructs RegistrationHandler.
func NewRegistrationHandler(registration *usecase.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{registration: registration}
}

// RegisterRoutes binds the registration route.
func (h *RegistrationHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/register", h.register)
}

func (h *RegistrationHandler) register(c *gin.Context) {
	var req RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	account, err := h.registration.Register(c.Request.Context(), usecase.RegisterInput{
		Email:     req.Email,
		Name:      req.Name,
		Password:  req.Password,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		var policy *usecase.PasswordPolicyError
		if errors.As(err, &policy) {
			respondPasswordPolicy(c, policy)
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrEmailInvalid, Status: http.StatusBadRequest, Message: "invalid email address"},
			{Err: usecase.ErrEmailTaken, Status: http.StatusConflict, Message: "email already registered"},
		}, http.StatusInternalServerError, "failed to register account")
		return
	}

	c.JSON(http.StatusCreated, RegistrationResponse{Account: newAccountSummary(*account)})
}
