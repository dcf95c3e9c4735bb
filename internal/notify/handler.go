package notify

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchaser/internal/api"
)

// Handler exposes the dispatcher over HTTP.
type Handler struct {
	d      *Dispatcher
	secret string // guards the gateway test route; empty = open
	logger *zap.Logger
}

// NewHandler creates a new notification Handler.
func NewHandler(d *Dispatcher, secret string, logger *zap.Logger) *Handler {
	return &Handler{d: d, secret: secret, logger: logger}
}

// Register registers notification routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	n := rg.Group("/notifications")
	{
		n.POST("/client-created", h.ClientCreated)
		n.POST("/broker-notified", h.BrokerNotified)
		n.GET("/test", api.RequireBearer(h.secret), h.TestGateway)
	}
}

// ClientCreated handles POST /notifications/client-created.
// 200 when every channel delivered, 207 when only some did, 500 when none did.
func (h *Handler) ClientCreated(c *gin.Context) {
	var n ClientNotice
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rep, err := h.d.NotifyClientOfNewRequest(c.Request.Context(), n)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	switch rep.Status {
	case StatusPartial:
		status = http.StatusMultiStatus
	case StatusFailed:
		status = http.StatusInternalServerError
	}
	c.JSON(status, rep)
}

// BrokerNotified handles POST /notifications/broker-notified.
func (h *Handler) BrokerNotified(c *gin.Context) {
	var n BrokerNotice
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rep, err := h.d.NotifyBrokerOfCompletion(c.Request.Context(), n)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if !rep.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, rep)
}

// TestGateway handles GET /notifications/test?phone=&email=.
func (h *Handler) TestGateway(c *gin.Context) {
	phone := strings.TrimSpace(c.Query("phone"))
	email := strings.TrimSpace(c.Query("email"))
	if phone == "" && email == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "provide ?phone=+1234567890 or ?email=test@example.com to test",
			"example": "/notifications/test?phone=+1234567890",
		})
		return
	}

	results := h.d.TestGateway(c.Request.Context(), phone, email)
	c.JSON(http.StatusOK, gin.H{
		"message": "test complete, check results below and the server logs for details",
		"results": results,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var ve *ErrValidation
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Msg})
	case errors.Is(err, ErrBrokerNotConfigured):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("notification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notification failed"})
	}
}
