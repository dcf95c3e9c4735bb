package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes readiness over HTTP.
type Handler struct {
	c *Checker
}

// NewHandler creates a new health Handler.
func NewHandler(c *Checker) *Handler {
	return &Handler{c: c}
}

// Register registers the readiness route on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/readyz", h.Ready)
}

// Ready handles GET /readyz. It answers 503 while any component is degraded.
func (h *Handler) Ready(c *gin.Context) {
	code, status := http.StatusOK, "ok"
	if !h.c.Ready() {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, gin.H{"status": status, "components": h.c.Snapshot()})
}
