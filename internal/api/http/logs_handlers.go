package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
)

// maxLogBatch bounds entries per request.
const maxLogBatch = 100

// ClientLogEntry is one log line reported by a viewer, such as the browser
// overlay that renders scan results.
type ClientLogEntry struct {
	ID        string         `json:"id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	Timestamp string         `json:"timestamp"`
}

// ClientLogRequest represents a batch of logs from a viewer.
type ClientLogRequest struct {
	Source  string           `json:"source" binding:"required"`
	Entries []ClientLogEntry `json:"entries"`
}

// StreamLogs records client log entries in the server log. The stored
// logging preferences apply: nothing is kept while logging is disabled and
// debug entries only when verbose logging is on.
func (h *Handlers) StreamLogs(c *gin.Context) {
	var req ClientLogRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if len(req.Entries) == 0 {
		badRequest(c, "no log entries provided")
		return
	}
	if len(req.Entries) > maxLogBatch {
		badRequest(c, "too many log entries")
		return
	}

	st, err := h.settings.Settings(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	processed := 0
	if st.Logging.Enabled {
		logger := h.logger.Named("client").With(zap.String("source", req.Source))
		for _, entry := range req.Entries {
			if isDebug(entry.Level) && !st.Logging.Verbose {
				continue
			}
			logClientEntry(logger, entry)
			processed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries_received":  len(req.Entries),
		"entries_processed": processed,
		"timestamp":         time.Now().Unix(),
	})
}

func isDebug(level string) bool {
	return level == "debug" || level == "verbose"
}

// logClientEntry writes one entry at its own level.
func logClientEntry(logger *logging.Logger, entry ClientLogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+2)
	fields = append(fields,
		zap.String("client_log_id", entry.ID),
		zap.String("client_timestamp", entry.Timestamp),
	)
	for key, value := range entry.Context {
		switch v := value.(type) {
		case string:
			fields = append(fields, zap.String(key, v))
		case float64:
			fields = append(fields, zap.Float64(key, v))
		case bool:
			fields = append(fields, zap.Bool(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}

	switch entry.Level {
	case "error":
		logger.Error(entry.Message, fields...)
	case "warn":
		logger.Warn(entry.Message, fields...)
	case "debug", "verbose":
		logger.Debug(entry.Message, fields...)
	default:
		logger.Info(entry.Message, fields...)
	}
}
