package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/learnonline/admin-iam/internal/core/domain"
	"github.com/learnonline/admin-iam/internal/core/port"
	"github.com/learnonline/admin-iam/internal/transport/http/middleware"
	"github.com/learnonline/admin-iam/internal/usecase"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	codeHierarchyViolation = "role_hierarchy_violation"
	codeElevationViolation = "role_elevation_violation"
	codeDemoRestricted     = "demo_mode_restricted"
)

// AdminAccountsHandler exposes account management behind the role guards.
type AdminAccountsHandler struct {
	accounts *usecase.AccountService
}

// NewAdminAccountsHandler constructs AdminAccountsHandler.
func NewAdminAccountsHandler(accounts *usecase.AccountService) *AdminAccountsHandler {
	return &AdminAccountsHandler{accounts: accounts}
}

// RegisterRoutes binds the account management routes behind the supplied
// auth middleware.
func (h *AdminAccountsHandler) RegisterRoutes(r *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	group := r.Group("/admin/accounts", authMiddleware)
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.PATCH("/:id/role", h.updateRole)
}

func (h *AdminAccountsHandler) list(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	limit := parseIntQuery(c, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := parseIntQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	filter := port.AccountFilter{
		Role:   domain.Role(c.Query("role")),
		Search: c.Query("search"),
		Limit:  limit,
		Offset: offset,
	}

	accounts, total, err := h.accounts.List(c.Request.Context(), actor, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list accounts"))
		return
	}

	summaries := make([]AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		summaries = append(summaries, newAccountSummary(account))
	}

	c.JSON(http.StatusOK, AccountListResponse{
		Accounts: summaries,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (h *AdminAccountsHandler) get(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	account, err := h.accounts.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to fetch account")
		return
	}

	c.JSON(http.StatusOK, newAccountSummary(*account))
}

func (h *AdminAccountsHandler) updateRole(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid role payload"))
		return
	}

	account, err := h.accounts.UpdateRole(c.Request.Context(), actor, c.Param("id"), domain.Role(req.Role))
	if err != nil {
		respondGuardError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAccountSummary(*account))
}

// respondGuardError keeps the three 403 causes distinguishable by machine
// code so clients can tell a feature gate from a privilege failure.
func respondGuardError(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case errors.Is(err, usecase.ErrDemoRestricted):
		c.JSON(http.StatusForbidden, NewCodedErrorResponse(c, "operation unavailable in demo mode", codeDemoRestricted))
	case errors.Is(err, usecase.ErrHierarchyViolation):
		c.JSON(http.StatusForbidden, NewCodedErrorResponse(c, "subject outranks actor", codeHierarchyViolation))
	case errors.Is(err, usecase.ErrElevationViolation):
		c.JSON(http.StatusForbidden, NewCodedErrorResponse(c, "role grant exceeds actor privilege", codeElevationViolation))
	case errors.Is(err, usecase.ErrUnknownRole):
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unknown role"))
	case errors.Is(err, usecase.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "account not found"))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to update role"))
	}
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
