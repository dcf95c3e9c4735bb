package reminders

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchaser/internal/api"
)

// Handler exposes the sweep trigger over HTTP.
type Handler struct {
	s      *Scheduler
	secret string // empty = open
	logger *zap.Logger
}

// NewHandler creates a new reminders Handler.
func NewHandler(s *Scheduler, secret string, logger *zap.Logger) *Handler {
	return &Handler{s: s, secret: secret, logger: logger}
}

// Register registers the sweep route on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/reminders/run", api.RequireBearer(h.secret), h.Run)
}

// Run handles GET /reminders/run.
func (h *Handler) Run(c *gin.Context) {
	res, err := h.s.RunSweep(c.Request.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("reminders: sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
			"results": res,
		})
		return
	}

	var msg string
	switch {
	case res.Skipped:
		msg = "sweep already in progress"
	case res.Processed == 0:
		msg = "No pending requests to process"
	default:
		msg = fmt.Sprintf("Processed %d requests", res.Processed)
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": msg,
		"results": res,
	})
}
