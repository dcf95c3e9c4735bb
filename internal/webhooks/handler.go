package webhooks

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the delivery log.
type Handler struct {
	log    DeliveryLog
	logger *zap.Logger
}

// NewHandler creates a new webhook Handler.
func NewHandler(log DeliveryLog, logger *zap.Logger) *Handler {
	return &Handler{log: log, logger: logger}
}

// Register registers webhook routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/webhooks/deliveries", h.ListDeliveries)
}

// ListDeliveries handles GET /webhooks/deliveries?limit=N.
func (h *Handler) ListDeliveries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	deliveries, err := h.log.ListDeliveries(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list webhook deliveries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list deliveries"})
		return
	}
	if deliveries == nil {
		deliveries = []*Delivery{}
	}

	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries, "count": len(deliveries)})
}
