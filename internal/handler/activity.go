package handler

import (
	"errors"
	"net/http"

	"riskwatch/internal/domain"

	"github.com/gin-gonic/gin"
)

type transactionRequest struct {
	UserID      string             `json:"user_id"`
	Transaction domain.Transaction `json:"transaction"`
}

type loginRequest struct {
	UserID string       `json:"user_id"`
	Login  domain.Login `json:"login"`
}

type tradeRequest struct {
	Trade domain.Trade `json:"trade"`
}

// RecordTransaction godoc
// @Summary      Append a transaction to a user's history
// @Tags         activity
// @Accept       json
// @Produce      json
// @Param        request  body  transactionRequest  true  "Transaction to append"
// @Success      202  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/activity/transactions [post]
func (h *Handler) RecordTransaction(c *gin.Context) {
	if h.activityService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "activity service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.record-transaction")
	defer span.End()

	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.activityService.RecordTransaction(ctx, req.UserID, req.Transaction); err != nil {
		writeActivityError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// RecordLogin godoc
// @Summary      Append a login to a user's history
// @Tags         activity
// @Accept       json
// @Produce      json
// @Param        request  body  loginRequest  true  "Login to append"
// @Success      202  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/activity/logins [post]
func (h *Handler) RecordLogin(c *gin.Context) {
	if h.activityService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "activity service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.record-login")
	defer span.End()

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.activityService.RecordLogin(ctx, req.UserID, req.Login); err != nil {
		writeActivityError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// RecordTrade godoc
// @Summary      Append a trade to a trader's history
// @Tags         activity
// @Accept       json
// @Produce      json
// @Param        request  body  tradeRequest  true  "Trade to append"
// @Success      202  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/activity/trades [post]
func (h *Handler) RecordTrade(c *gin.Context) {
	if h.activityService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "activity service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.record-trade")
	defer span.End()

	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.activityService.RecordTrade(ctx, req.Trade); err != nil {
		writeActivityError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

func writeActivityError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrInvalidEvent) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
