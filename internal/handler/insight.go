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

type scanRequest struct {
	TraderID string `json:"trader_id"`
}

// ListInsights godoc
// @Summary      List trading insights
// @Description  Returns recent trading behavior insights, most recent first
// @Tags         insights
// @Produce      json
// @Param        trader_id  query  string  false  "Filter by trader id"
// @Param        limit      query  int     false  "Number of insights (default 50, max 200)"  default(50)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/insights [get]
func (h *Handler) ListInsights(c *gin.Context) {
	if h.insightService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "insight service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-insights")
	defer span.End()

	filter := domain.InsightFilter{
		TraderID: strings.TrimSpace(c.Query("trader_id")),
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

	insights, err := h.insightService.List(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"insights": insights})
}

// ScanTrader godoc
// @Summary      Score one trader now
// @Description  Runs the behavioral scoring pass for a trader and stores the insight
// @Tags         insights
// @Accept       json
// @Produce      json
// @Param        request  body  scanRequest  true  "Trader to scan"
// @Success      200  {object}  domain.TradingInsight
// @Failure      400  {object}  map[string]string
// @Failure      422  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/insights/scan [post]
func (h *Handler) ScanTrader(c *gin.Context) {
	if h.insightService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "insight service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.scan-trader")
	defer span.End()

	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	span.SetAttributes(attribute.String("trader_id", req.TraderID))

	insight, err := h.insightService.ScanTrader(ctx, req.TraderID)
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

	c.JSON(http.StatusOK, insight)
}
