package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnonline/admin-iam/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// NewCodedErrorResponse creates an error response carrying a machine-readable
// code alongside the message, used by the 403 guard taxonomy.
func NewCodedErrorResponse(c *gin.Context, errorMsg, code string) ErrorResponse {
	resp := NewErrorResponse(c, errorMsg)
	resp.Code = code
	return resp
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AccountSummary describes the account view returned by the API. Credential
// material never appears here.
type AccountSummary struct {
	ID               string      `json:"id"`
	Email            string      `json:"email"`
	Name             string      `json:"name"`
	Role             domain.Role `json:"role"`
	TwoFactorEnabled bool        `json:"two_factor_enabled"`
	Demo             bool        `json:"demo,omitempty"`
	LastLogin        *time.Time  `json:"last_login,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

func newAccountSummary(account domain.Account) AccountSummary {
	return AccountSummary{
		ID:               account.ID,
		Email:            account.Email,
		Name:             account.Name,
		Role:             account.Role,
		TwoFactorEnabled: account.TwoFactorEnabled,
		Demo:             account.IsDemo(),
		LastLogin:        account.LastLogin,
		CreatedAt:        account.CreatedAt,
	}
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse describes the response returned for a fully completed login.
type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int            `json:"expires_in"`
	Account     AccountSummary `json:"account"`
}

// ChallengeAccountView is the minimal account shape disclosed while a login
// is paused at the second factor.
type ChallengeAccountView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// TwoFactorChallengeResponse is returned when a login requires a second factor.
type TwoFactorChallengeResponse struct {
	Requires2FA    bool                 `json:"requires_2fa"`
	ChallengeToken string               `json:"challenge_token"`
	Account        ChallengeAccountView `json:"account"`
}

// TwoFactorVerifyRequest finalizes a challenged login.
type TwoFactorVerifyRequest struct {
	ChallengeToken string `json:"challenge_token" binding:"required"`
	Code           string `json:"code" binding:"required"`
}

// TwoFactorSetupResponse carries the one-time enrollment artifacts.
type TwoFactorSetupResponse struct {
	Secret        string   `json:"secret"`
	URL           string   `json:"otpauth_url"`
	RecoveryCodes []string `json:"recovery_codes"`
}

// TwoFactorActivateRequest confirms a pending enrollment.
type TwoFactorActivateRequest struct {
	Code string `json:"code" binding:"required"`
}

// RegistrationRequest defines the account registration payload.
type RegistrationRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegistrationResponse contains the created account view.
type RegistrationResponse struct {
	Account AccountSummary `json:"account"`
}

// ForgotPasswordRequest starts the reset flow.
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

// ResetPasswordRequest finalizes the reset flow.
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// PasswordViolation itemizes one unmet password rule.
type PasswordViolation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PasswordPolicyResponse reports the full list of unmet rules.
type PasswordPolicyResponse struct {
	Error      string              `json:"error"`
	Violations []PasswordViolation `json:"violations"`
	TraceID    string              `json:"trace_id,omitempty"`
}

// UpdateRoleRequest assigns a new role to an account.
type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// AccountListResponse wraps a paginated account listing.
type AccountListResponse struct {
	Accounts []AccountSummary `json:"accounts"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// HealthResponse reports service status.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}
