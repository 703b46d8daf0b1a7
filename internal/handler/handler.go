package handler

import (
	"net/http"

	"riskwatch/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	tracer               trace.Tracer
	investigationService *service.InvestigationService
	insightService       *service.InsightService
	activityService      *service.ActivityService
	marketService        *service.MarketService
}

func New(
	tracer trace.Tracer,
	investigationService *service.InvestigationService,
	insightService *service.InsightService,
	activityService *service.ActivityService,
	marketService *service.MarketService,
) *Handler {
	return &Handler{
		tracer:               tracer,
		investigationService: investigationService,
		insightService:       insightService,
		activityService:      activityService,
		marketService:        marketService,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.POST("/api/investigations/evaluate", h.EvaluateAlert)
	r.GET("/api/investigations", h.ListInvestigations)
	r.GET("/api/investigations/:id", h.GetInvestigation)
	r.POST("/api/investigations/:id/actions", h.RecordAction)
	r.GET("/api/insights", h.ListInsights)
	r.POST("/api/insights/scan", h.ScanTrader)
	r.POST("/api/activity/transactions", h.RecordTransaction)
	r.POST("/api/activity/logins", h.RecordLogin)
	r.POST("/api/activity/trades", h.RecordTrade)
	r.POST("/api/market/candles", h.RecordCandles)
}

// Health godoc
// @Summary      Service liveness
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
