package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnonline/admin-iam/internal/usecase"
)

// AuthHandler exposes the login and two-factor verification endpoints.
type AuthHandler struct {
	auth *usecase.AuthService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// RegisterRoutes binds authentication routes, applying optional middleware
// ahead of the login handler.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares ...gin.HandlerFunc) {
	if len(loginMiddlewares) > 0 {
		chain := append([]gin.HandlerFunc{}, loginMiddlewares...)
		chain = append(chain, h.login)
		r.POST("/login", chain...)
	} else {
		r.POST("/login", h.login)
	}

	r.POST("/2fa/verify", h.verifyTwoFactor)
}

func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		respondLoginError(c, err)
		return
	}

	respondLoginResult(c, result)
}

func (h *AuthHandler) verifyTwoFactor(c *gin.Context) {
	var req TwoFactorVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	result, err := h.auth.VerifyTwoFactor(c.Request.Context(), usecase.VerifyTwoFactorInput{
		ChallengeToken: req.ChallengeToken,
		Code:           req.Code,
		IP:             c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
	})
	if err != nil {
		respondLoginError(c, err)
		return
	}

	respondLoginResult(c, result)
}

func respondLoginResult(c *gin.Context, result *usecase.LoginResult) {
	if result.Requires2FA {
		view := ChallengeAccountView{}
		if result.Challenge != nil {
			view = ChallengeAccountView{
				ID:    result.Challenge.ID,
				Email: result.Challenge.Email,
				Name:  result.Challenge.Name,
			}
		}
		c.JSON(http.StatusOK, TwoFactorChallengeResponse{
			Requires2FA:    true,
			ChallengeToken: result.ChallengeToken,
			Account:        view,
		})
		return
	}

	expiresIn := int(time.Until(result.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Account:     newAccountSummary(result.Account),
	})
}

func respondLoginError(c *gin.Context, err error) {
	var locked *usecase.AccountLockedError
	if errors.As(err, &locked) {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, locked.Error()))
		return
	}

	RespondWithMappedError(c, err, []ErrorCase{
		{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
		{Err: usecase.ErrChallengeInvalid, Status: http.StatusUnauthorized, Message: "invalid or expired challenge"},
		{Err: usecase.ErrTwoFactorInvalid, Status: http.StatusUnauthorized, Message: "invalid two-factor code"},
	}, http.StatusInternalServerError, "authentication failed")
}
