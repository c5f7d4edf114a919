package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/imgfirewall/internal/settings"
)

// GetSettings returns the effective settings document.
func (h *Handlers) GetSettings(c *gin.Context) {
	st, err := h.settings.Settings(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// PutSettings replaces the settings document.
func (h *Handlers) PutSettings(c *gin.Context) {
	var st settings.Settings
	if !h.bindJSON(c, &st) {
		return
	}
	if err := h.settings.SaveSettings(c.Request.Context(), st); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// PatchSettings deep-merges a partial document.
func (h *Handlers) PatchSettings(c *gin.Context) {
	var patch map[string]any
	if !h.bindJSON(c, &patch) {
		return
	}
	st, err := h.settings.Patch(c.Request.Context(), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// UpdateSetting sets one value addressed by a dot path, e.g.
// PUT /api/settings/ui.blur_intensity with body 12.
func (h *Handlers) UpdateSetting(c *gin.Context) {
	var value any
	if !h.bindJSON(c, &value) {
		return
	}
	st, err := h.settings.UpdateSetting(c.Request.Context(), c.Param("path"), value)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// SitePolicy returns the policy a scan of site would run with.
func (h *Handlers) SitePolicy(c *gin.Context) {
	ctx := c.Request.Context()
	site := c.Param("site")

	resolved, err := h.settings.SiteSettings(ctx, site)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"site":        site,
		"whitelisted": resolved.Whitelisted,
		"policy":      resolved.Policy(),
	})
}

type whitelistRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// Whitelist adds a domain to the whitelist.
func (h *Handlers) Whitelist(c *gin.Context) {
	var req whitelistRequest
	if !h.bindJSON(c, &req) {
		return
	}
	st, err := h.settings.WhitelistDomain(c.Request.Context(), req.Domain)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// RemoveWhitelist drops a domain from the whitelist.
func (h *Handlers) RemoveWhitelist(c *gin.Context) {
	st, err := h.settings.RemoveWhitelistDomain(c.Request.Context(), c.Param("site"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetStats returns the blocking statistics.
func (h *Handlers) GetStats(c *gin.Context) {
	st, err := h.settings.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ResetStats zeroes the statistics.
func (h *Handlers) ResetStats(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.settings.ResetStats(ctx); err != nil {
		h.fail(c, err)
		return
	}
	h.GetStats(c)
}

// Export downloads settings and statistics as JSON or TOML.
func (h *Handlers) Export(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", settings.FormatJSON))
	data, err := h.settings.Export(c.Request.Context(), format)
	if err != nil {
		h.fail(c, err)
		return
	}

	contentType := "application/json"
	if format == settings.FormatTOML {
		contentType = "application/toml"
	}
	name := fmt.Sprintf("imgfirewall-settings-%s.%s", time.Now().UTC().Format("2006-01-02"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, contentType, data)
}

// Import restores an export document. The format comes from the query,
// then the content type, and is sniffed from the body otherwise.
func (h *Handlers) Import(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(data) == 0 {
		badRequest(c, "empty import document")
		return
	}

	format := c.Query("format")
	if format == "" {
		switch {
		case strings.Contains(c.ContentType(), "json"):
			format = settings.FormatJSON
		case strings.Contains(c.ContentType(), "toml"):
			format = settings.FormatTOML
		}
	}

	ctx := c.Request.Context()
	if err := h.settings.Import(ctx, data, format); err != nil {
		h.fail(c, err)
		return
	}
	h.GetSettings(c)
}

// Categories lists the content categories and profiles.
func (h *Handlers) Categories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"categories": h.index.Categories(),
		"profiles":   h.index.Profiles(),
	})
}

// ApplyProfile applies a named preset.
func (h *Handlers) ApplyProfile(c *gin.Context) {
	st, err := h.settings.ApplyProfile(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
