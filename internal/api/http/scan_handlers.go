package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/imgfirewall/internal/service"
)

// ScanRequest names a page by URL or carries it inline.
type ScanRequest struct {
	URL     string `json:"url"`
	HTML    string `json:"html"`
	BaseURL string `json:"baseUrl"`
	// OmitHTML drops the annotated document from the response.
	OmitHTML bool `json:"omitHtml"`
}

// Scan classifies every image on a page and returns the annotated HTML with
// per-element outcomes.
func (h *Handlers) Scan(c *gin.Context) {
	if h.scanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scanner not configured"})
		return
	}

	var req ScanRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if (req.URL == "") == (req.HTML == "") {
		badRequest(c, "exactly one of url or html is required")
		return
	}

	ctx := c.Request.Context()
	var (
		res *service.Result
		err error
	)
	if req.URL != "" {
		res, err = h.scanner.ScanURL(ctx, req.URL)
	} else {
		res, err = h.scanner.ScanHTML(ctx, req.HTML, req.BaseURL)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	tracing.Annotate(ctx,
		zap.String("scan", res.ScanID),
		zap.String("site", res.Site),
		zap.Int("images", res.Summary.Total),
		zap.Int("blocked", res.Summary.Blocked),
	)
	if req.OmitHTML {
		trimmed := *res
		trimmed.HTML = ""
		res = &trimmed
	}
	c.JSON(http.StatusOK, res)
}
