package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/learnonline/admin-iam/internal/usecase"
)

// PasswordHandler exposes the forgot/reset password endpoints.
type PasswordHandler struct {
	resets *usecase.PasswordResetService
}

// NewPasswordHandler constructs PasswordHandler.
func NewPasswordHandler(resets *usecase.PasswordResetService) *PasswordHandler {
	return &PasswordHandler{resets: resets}
}

// RegisterRoutes binds password routes, applying optional middleware ahead
// of the forgot handler.
func (h *PasswordHandler) RegisterRoutes(r *gin.RouterGroup, forgotMiddlewares ...gin.HandlerFunc) {
	if len(forgotMiddlewares) > 0 {
		chain := append([]gin.HandlerFunc{}, forgotMiddlewares...)
		chain = append(chain, h.forgot)
		r.POST("/password/forgot", chain...)
	} else {
		r.POST("/password/forgot", h.forgot)
	}

	r.POST("/password/reset", h.reset)
}

// forgot always answers 200 with the same body whether or not the email
// matched an account.
func (h *PasswordHandler) forgot(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	_, err := h.resets.Forgot(c.Request.Context(), usecase.ForgotInput{
		Email:     req.Email,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		var limited *usecase.RateLimitExceededError
		if errors.As(err, &limited) {
			seconds := int(math.Ceil(limited.RetryAfter.Seconds()))
			if seconds > 0 {
				c.Header("Retry-After", strconv.Itoa(seconds))
			}
			c.JSON(http.StatusTooManyRequests, NewErrorResponse(c, "too many reset requests"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to process reset request"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "if the email exists, a reset link has been sent"})
}

func (h *PasswordHandler) reset(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	err := h.resets.Reset(c.Request.Context(), usecase.ResetInput{
		Token:       req.Token,
		NewPassword: req.NewPassword,
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		var policy *usecase.PasswordPolicyError
		if errors.As(err, &policy) {
			respondPasswordPolicy(c, policy)
			return
		}
		if errors.Is(err, usecase.ErrResetTokenInvalid) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid or expired reset token"))
			return
		}
		if errors.Is(err, usecase.ErrPasswordReused) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "new password must differ from recently used passwords"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to reset password"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}

func respondPasswordPolicy(c *gin.Context, policy *usecase.PasswordPolicyError) {
	violations := make([]PasswordViolation, 0, len(policy.Violations))
	for _, v := range policy.Violations {
		violations = append(violations, PasswordViolation{Code: v.Code, Message: v.Message})
	}

	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	c.JSON(http.StatusBadRequest, PasswordPolicyResponse{
		Error:      "password does not meet requirements",
		Violations: violations,
		TraceID:    traceIDStr,
	})
}
