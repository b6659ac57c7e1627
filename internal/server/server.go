package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mokshitha-y/todosaas/internal/logger"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/saga"
	"github.com/mokshitha-y/todosaas/internal/store"
)

// Server is the saga trigger API. Authentication middleware lives in front
// of it; permission checks are re-validated inside each saga regardless.
type Server struct {
	runner *saga.Runner
	stores saga.Stores
}

func New(runner *saga.Runner, stores saga.Stores) *Server {
	return &Server{runner: runner, stores: stores}
}

// Router builds the gin engine with all trigger and view routes.
func (s *Server) Router(log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logger.Requests(log))

	api := r.Group("/api")
	{
		api.POST("/tenants", s.registerTenant)
		api.DELETE("/tenants/:id", s.deleteTenant)
		api.GET("/tenants/:id/deletion-warning", s.deletionWarning)
		api.GET("/tenants/:id/metrics", s.tenantMetrics)
		api.GET("/tenants/:id/email-settings", s.getEmailSettings)
		api.PUT("/tenants/:id/email-settings", s.putEmailSettings)

		api.POST("/tenants/:id/invitations", s.inviteMember)
		api.GET("/tenants/:id/invitations", s.listInvitations)
		api.GET("/invitations/:token", s.validateInvitation)
		api.POST("/invitations/:token/accept", s.acceptInvitation)
		api.POST("/invitations/:token/cancel", s.cancelInvitation)

		api.PATCH("/tenants/:id/members/:userID/role", s.changeRole)
		api.DELETE("/tenants/:id/members/:userID", s.removeMember)

		api.POST("/operations/aggregate-metrics", s.aggregateMetrics)
		api.POST("/operations/rollover-recurring", s.rolloverRecurring)
		api.POST("/operations/orphan-sweep", s.sweepOrphans)
	}
	return r
}

// sagaResponse is the structured run outcome. Callers must inspect status,
// not just the HTTP code: succeeded_with_warnings also returns 200.
type sagaResponse struct {
	Saga     string         `json:"saga"`
	RunID    string         `json:"run_id"`
	Status   saga.Status    `json:"status"`
	Warnings []string       `json:"warnings,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) render(c *gin.Context, result *saga.Result, err error) {
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	resp := sagaResponse{
		Saga:     result.Saga,
		RunID:    result.RunID.String(),
		Status:   result.Status,
		Warnings: result.Warnings,
		Details:  result.Details,
	}
	code := http.StatusOK
	if result.Status == saga.StatusFailed {
		code = http.StatusInternalServerError
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}
	}
	c.JSON(code, resp)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, saga.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, saga.ErrAlreadyMember),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, store.ErrTenantNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrMembershipNotFound),
		errors.Is(err, store.ErrInvitationNotFound):
		return http.StatusNotFound
	case errors.Is(err, saga.ErrInvalidParams),
		errors.Is(err, saga.ErrInvalidRole),
		errors.Is(err, saga.ErrNotConfirmed),
		errors.Is(err, saga.ErrSelfTarget),
		errors.Is(err, saga.ErrTargetIsOwner),
		errors.Is(err, saga.ErrLastOwner):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type registerRequest struct {
	TenantName     string `json:"tenant_name" binding:"required"`
	OwnerEmail     string `json:"owner_email" binding:"required,email"`
	OwnerFirstName string `json:"owner_first_name"`
	OwnerLastName  string `json:"owner_last_name"`
	OnTrial        bool   `json:"on_trial"`
}

func (s *Server) registerTenant(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.runner.Register(c.Request.Context(), saga.RegistrationParams{
		TenantName:     req.TenantName,
		OwnerEmail:     req.OwnerEmail,
		OwnerFirstName: req.OwnerFirstName,
		OwnerLastName:  req.OwnerLastName,
		OnTrial:        req.OnTrial,
	}, s.actor(c))
	s.render(c, result, err)
}

type deleteTenantRequest struct {
	ConfirmDeletion bool `json:"confirm_deletion"`
}

func (s *Server) deleteTenant(c *gin.Context) {
	tenantID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req deleteTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.runner.DeleteTenant(c.Request.Context(), saga.DeletionParams{
		TenantID: tenantID,
		Confirm:  req.ConfirmDeletion,
	}, s.actor(c))
	s.render(c, result, err)
}

// deletionWarning previews what a confirmed deletion would destroy: the
// member roster split into users who would be hard-deleted (no memberships
// elsewhere) and users who would merely be unwired.
func (s *Server) deletionWarning(c *gin.Context) {
	tenantID, ok := parseID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	tenant, err := s.stores.Tenants.Get(ctx, tenantID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	if !s.ensureOwner(c, tenantID) {
		return
	}
	members, err := s.stores.Memberships.ListByTenant(ctx, tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var wouldDelete, wouldKeep []string
	for _, m := range members {
		other, err := s.stores.Memberships.CountByUserExcludingTenant(ctx, m.User.ID, tenantID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if other == 0 {
			wouldDelete = append(wouldDelete, m.User.Username)
		} else {
			wouldKeep = append(wouldKeep, m.User.Username)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_name":        tenant.Name,
		"schema_name":        tenant.SchemaName,
		"member_count":       len(members),
		"users_to_delete":    wouldDelete,
		"users_to_keep":      wouldKeep,
		"confirmation_field": "confirm_deletion",
	})
}

type emailSettingsRequest struct {
	Host        string `json:"host" binding:"required"`
	Port        int    `json:"port" binding:"required"`
	Username    string `json:"username"`
	FromAddress string `json:"from_address" binding:"required,email"`
}

func (s *Server) getEmailSettings(c *gin.Context) {
	tenantID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if !s.ensureOwner(c, tenantID) {
		return
	}
	cfg, err := s.stores.EmailSettings.Get(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) putEmailSettings(c *gin.Context) {
	tenantID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if !s.ensureOwner(c, tenantID) {
		return
	}
	var req emailSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := &models.EmailConfiguration{
		TenantID:    tenantID,
		Host:        req.Host,
		Port:        req.Port,
		Username:    req.Username,
		FromAddress: req.FromAddress,
	}
	if err := s.stores.EmailSettings.Upsert(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// ensureOwner gates read endpoints that expose tenant configuration. Saga
// triggers do their own ownership checks internally.
func (s *Server) ensureOwner(c *gin.Context, tenantID uuid.UUID) bool {
	actor := s.actor(c)
	m, err := s.stores.Memberships.Get(c.Request.Context(), actor.ID, tenantID)
	if err != nil || m.Role != models.RoleOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": saga.ErrNotOwner.Error()})
		return false
	}
	return true
}

func (s *Server) tenantMetrics(c *gin.Context) {
	tenantID, ok := parseID(c, "id")
	if !ok {
		return
	}
	metrics, err := s.stores.Metrics.Get(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, metrics)
}

type inviteRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Role      string `json:"role" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (s *Server) inviteMember(c *gin.Context) {
	tenantID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.runner.Invite(c.Request.Context(), saga.InvitationParams{
		TenantID:  tenantID,
		Email:     req.Email,
		Role:      models.Role(req.Role),
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, s.actor(c))
	s.render(c, result, err)
}

// listInvitations exposes raw tokens, so only an owner may read it.
func (s *Server) listInvitations(c *gin.Context) {
	tenantID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if !s.ensureOwner(c, tenantID) {
		return
	}
	invitations, err := s.stores.Invitations.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invitations": invitations})
}

func (s *Server) validateInvitation(c *gin.Context) {
	token, ok := parseID(c, "token")
	if !ok {
		return
	}
	inv, err := s.runner.ValidateInvitation(c.Request.Context(), token)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":   inv.Token.String(),
		"email":   inv.Email,
		"role":    inv.Role,
		"status":  inv.Status,
		"expires": inv.ExpiresAt,
		"valid":   inv.Status == models.InvitationPending,
	})
}

func (s *Server) acceptInvitation(c *gin.Context) {
	token, ok := parseID(c, "token")
	if !ok {
		return
	}
	actor := s.actor(c)
	inv, err := s.runner.AcceptInvitation(c.Request.Context(), token, actor.ID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": inv.Token.String(), "status": inv.Status})
}

func (s *Server) cancelInvitation(c *gin.Context) {
	token, ok := parseID(c, "token")
	if !ok {
		return
	}
	inv, err := s.runner.CancelInvitation(c.Request.Context(), token, s.actor(c))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": inv.Token.String(), "status": inv.Status})
}

type changeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (s *Server) changeRole(c *gin.Context) {
	tenantID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID, ok := parseID(c, "userID")
	if !ok {
		return
	}
	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.runner.ChangeRole(c.Request.Context(), saga.RoleChangeParams{
		TenantID:     tenantID,
		TargetUserID: userID,
		NewRole:      models.Role(req.Role),
	}, s.actor(c))
	s.render(c, result, err)
}

func (s *Server) removeMember(c *gin.Context) {
	tenantID, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID, ok := parseID(c, "userID")
	if !ok {
		return
	}

	result, err := s.runner.RemoveMember(c.Request.Context(), saga.RemovalParams{
		TenantID:     tenantID,
		TargetUserID: userID,
	}, s.actor(c))
	s.render(c, result, err)
}

func (s *Server) aggregateMetrics(c *gin.Context) {
	result, err := s.runner.AggregateMetrics(c.Request.Context(), s.actor(c))
	s.render(c, result, err)
}

func (s *Server) rolloverRecurring(c *gin.Context) {
	result, err := s.runner.RolloverRecurring(c.Request.Context(), s.actor(c))
	s.render(c, result, err)
}

func (s *Server) sweepOrphans(c *gin.Context) {
	result, err := s.runner.SweepOrphans(c.Request.Context(), s.actor(c))
	s.render(c, result, err)
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return uuid.Nil, false
	}
	return id, true
}
