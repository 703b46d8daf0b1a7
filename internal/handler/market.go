package handler

import (
	"net/http"

	"riskwatch/internal/domain"

	"github.com/gin-gonic/gin"
)

type candlesRequest struct {
	Candles []domain.OHLC `json:"candles"`
}

// RecordCandles godoc
// @Summary      Upsert market candles for an instrument
// @Tags         market
// @Accept       json
// @Produce      json
// @Param        request  body  candlesRequest  true  "Candles to upsert"
// @Success      202  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/market/candles [post]
func (h *Handler) RecordCandles(c *gin.Context) {
	if h.marketService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "market service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.record-candles")
	defer span.End()

	var req candlesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.marketService.RecordCandles(ctx, req.Candles); err != nil {
		writeActivityError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}
