package requests

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchaser/internal/api"
	"github.com/jmerrifield20/docchaser/internal/messaging"
)

const jsonBodyLimit = 1 << 20

// Handler exposes the request service over HTTP.
type Handler struct {
	svc       *Service
	maxUpload int64
	uploadMW  []gin.HandlerFunc
	logger    *zap.Logger
}

// NewHandler creates a new request Handler. maxUpload caps the multipart
// body accepted by the upload route.
func NewHandler(svc *Service, maxUpload int64, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, maxUpload: maxUpload, logger: logger}
}

// SetUploadLimiter installs a middleware, such as api.UploadRateLimiter,
// in front of the upload route.
func (h *Handler) SetUploadLimiter(mw gin.HandlerFunc) {
	h.uploadMW = append(h.uploadMW, mw)
}

// Register registers request routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	limitJSON := api.LimitBody(jsonBodyLimit)

	rg.GET("/document-types", h.DocumentTypes)

	r := rg.Group("/requests")
	{
		r.POST("", limitJSON, h.Create)
		r.GET("", h.List)
		r.GET("/:id", h.Get)
		r.POST("/:id/stop-reminders", limitJSON, h.StopReminders)
	}

	u := rg.Group("/upload")
	{
		u.GET("/:token", h.UploadInfo)
		chain := append(append([]gin.HandlerFunc{}, h.uploadMW...), api.LimitBody(h.maxUpload), h.Upload)
		u.POST("/:token", chain...)
	}
}

// uploadView is the client-facing view of a pending request. It omits the
// phone number and anything the broker alone should see.
type uploadView struct {
	FirstName    string     `json:"first_name"`
	DocumentType string     `json:"document_type"`
	Deadline     *time.Time `json:"deadline,omitempty"`
}

func viewOf(req *DocumentRequest) uploadView {
	return uploadView{
		FirstName:    messaging.FirstName(req.ClientName),
		DocumentType: req.DocumentType,
		Deadline:     req.Deadline,
	}
}

// Create handles POST /requests.
func (h *Handler) Create(c *gin.Context) {
	var in CreateRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// List handles GET /requests?status=.
func (h *Handler) List(c *gin.Context) {
	reqs, err := h.svc.List(c.Request.Context(), Status(c.Query("status")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs, "count": len(reqs)})
}

// Get handles GET /requests/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	req, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// StopReminders handles POST /requests/:id/stop-reminders.
func (h *Handler) StopReminders(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	req, err := h.svc.StopReminders(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// DocumentTypes handles GET /document-types.
func (h *Handler) DocumentTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"document_types": DocumentTypes})
}

// UploadInfo handles GET /upload/:token.
func (h *Handler) UploadInfo(c *gin.Context) {
	req, err := h.svc.GetPendingByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(req))
}

// Upload handles POST /upload/:token with a multipart "file" field.
func (h *Handler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return
	}
	defer f.Close()

	res, err := h.svc.Upload(c.Request.Context(), c.Param("token"), File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        f,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"request":  viewOf(res.Request),
		"file_url": res.Request.FileURL,
	})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var ve *ErrValidation
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Msg})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
	case errors.Is(err, ErrAlreadyUploaded):
		c.JSON(http.StatusConflict, gin.H{"error": "This document has already been uploaded. Thank you!"})
	case errors.Is(err, ErrRequestExpired):
		c.JSON(http.StatusGone, gin.H{"error": "This upload link has expired. Please contact your broker for a new link."})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "request is no longer pending"})
	case errors.Is(err, ErrStorageNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request handler error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
