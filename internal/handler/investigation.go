package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"riskwatch/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type evaluateRequest struct {
	Alert        domain.Alert        `json:"alert"`
	UserActivity domain.UserActivity `json:"user_activity"`
}

type actionRequest struct {
	ActionType    string `json:"action_type"`
	ActionDetails string `json:"action_details"`
	Actor         string `json:"actor"`
}

// EvaluateAlert godoc
// @Summary      Evaluate a fraud alert
// @Description  Runs baseline, deviation detection, scoring, and classification for one alert and stores the investigation
// @Tags         investigations
// @Accept       json
// @Produce      json
// @Param        request  body  evaluateRequest  true  "Alert plus the user's activity snapshot (omit the snapshot to use stored history)"
// @Success      200  {object}  domain.Investigation
// @Failure      400  {object}  map[string]string
// @Failure      422  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/investigations/evaluate [post]
func (h *Handler) EvaluateAlert(c *gin.Context) {
	if h.investigationService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "investigation service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.evaluate-alert")
	defer span.End()

	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if req.UserActivity.UserID == "" {
		req.UserActivity.UserID = req.Alert.UserID
	}
	span.SetAttributes(attribute.String("user_id", req.UserActivity.UserID))

	// An omitted snapshot means "evaluate against stored history".
	if len(req.UserActivity.Transactions) == 0 && len(req.UserActivity.Logins) == 0 && h.activityService != nil {
		stored, err := h.activityService.GetUserActivity(ctx, req.UserActivity.UserID)
		if err == nil && stored != nil {
			stored.UserID = req.UserActivity.UserID
			req.UserActivity = *stored
		}
	}

	inv, err := h.investigationService.Evaluate(ctx, req.Alert, req.UserActivity)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidEvent):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrInsufficientHistory):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, inv)
}

// GetInvestigation godoc
// @Summary      Get one investigation
// @Description  Returns the investigation record together with its audit trail
// @Tags         investigations
// @Produce      json
// @Param        id  path  string  true  "Investigation ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/investigations/{id} [get]
func (h *Handler) GetInvestigation(c *gin.Context) {
	if h.investigationService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "investigation service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-investigation")
	defer span.End()

	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "investigation id is required"})
		return
	}

	inv, audit, err := h.investigationService.Get(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if inv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "investigation not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"investigation": inv, "audit_trail": audit})
}

// ListInvestigations godoc
// @Summary      List recent investigations
// @Tags         investigations
// @Produce      json
// @Param        user_id   query  string  false  "Filter by user id"
// @Param        severity  query  string  false  "Severity level (LOW, MEDIUM, HIGH, CRITICAL)"
// @Param        limit     query  int     false  "Number of investigations (default 50, max 200)"  default(50)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/investigations [get]
func (h *Handler) ListInvestigations(c *gin.Context) {
	if h.investigationService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "investigation service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-investigations")
	defer span.End()

	filter := domain.InvestigationFilter{
		UserID: strings.TrimSpace(c.Query("user_id")),
	}

	if rawSeverity := strings.TrimSpace(c.Query("severity")); rawSeverity != "" {
		level, err := domain.ParseSeverityLevel(rawSeverity)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "severity must be one of LOW, MEDIUM, HIGH, CRITICAL"})
			return
		}
		filter.Severity = &level
	}

	limit := 50
	if rawLimit := strings.TrimSpace(c.Query("limit")); rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n <= 0 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}
	filter.Limit = limit

	investigations, err := h.investigationService.List(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"investigations": investigations})
}

// RecordAction godoc
// @Summary      Record a remediation action
// @Description  Appends an audit entry; the action must be allowed for the investigation's severity
// @Tags         investigations
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "Investigation ID"
// @Param        request  body  actionRequest  true  "Action to record"
// @Success      200  {object}  domain.AuditEntry
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/investigations/{id}/actions [post]
func (h *Handler) RecordAction(c *gin.Context) {
	if h.investigationService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "investigation service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.record-action")
	defer span.End()

	id := strings.TrimSpace(c.Param("id"))
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	entry, err := h.investigationService.RecordAction(ctx, id, req.ActionType, req.ActionDetails, req.Actor)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, entry)
}
