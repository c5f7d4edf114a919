package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/imgfirewall/internal/category"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/page"
	"github.com/GriffinCanCode/imgfirewall/internal/service"
	"github.com/GriffinCanCode/imgfirewall/internal/settings"
)

// Version is reported by the root and health endpoints.
const Version = "2.0.0"

// PageScanner runs one-shot scans.
type PageScanner interface {
	ScanURL(ctx context.Context, rawURL string) (*service.Result, error)
	ScanHTML(ctx context.Context, html, baseURL string) (*service.Result, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	settings *settings.Service
	index    *category.Index
	scanner  PageScanner
	sandbox  SandboxStatus
	logger   *logging.Logger
}

// SandboxStatus reports where inference runs and whether the model is up.
type SandboxStatus interface {
	Mode() string
	ModelLoaded() bool
}

// NewHandlers creates a new handler set. scanner and sandbox may be nil;
// the scan endpoint then answers 503.
func NewHandlers(settingsSvc *settings.Service, index *category.Index, scanner PageScanner, sandbox SandboxStatus, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		settings: settingsSvc,
		index:    index,
		scanner:  scanner,
		sandbox:  sandbox,
		logger:   logger.Named("api"),
	}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "imgfirewall",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	sandbox := gin.H{"mode": "none"}
	if h.sandbox != nil {
		sandbox = gin.H{
			"mode":        h.sandbox.Mode(),
			"modelLoaded": h.sandbox.ModelLoaded(),
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"version":    Version,
		"categories": len(h.index.IDs()),
		"sandbox":    sandbox,
		"scanner":    h.scanner != nil,
	})
}

// fail maps domain errors onto status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, settings.ErrInvalidSettings),
		errors.Is(err, settings.ErrInvalidPath),
		errors.Is(err, settings.ErrUnknownFormat),
		errors.Is(err, page.ErrEmpty):
		status = http.StatusBadRequest
	case errors.Is(err, settings.ErrUnknownProfile):
		status = http.StatusNotFound
	case errors.Is(err, page.ErrTooLarge), errors.As(err, &maxBytes):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, page.ErrFetch):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// bindJSON decodes the body into v, answering 413 or 400 on failure.
func (h *Handlers) bindJSON(c *gin.Context, v any) bool {
	err := c.ShouldBindJSON(v)
	if err == nil {
		return true
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		h.fail(c, err)
	} else {
		badRequest(c, err.Error())
	}
	return false
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
