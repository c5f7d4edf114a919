package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body size limits for the API.
const (
	MaxImportSize = 1 << 20  // settings documents
	MaxScanSize   = 10 << 20 // inline HTML submitted for scanning
)

// BodyLimit rejects requests whose declared length exceeds max and caps the
// body reader for the rest, so handlers reading past max get an error.
func BodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > max {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}
