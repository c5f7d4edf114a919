package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
)

func observedTracer(t *testing.T) (*Tracer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	tracer := New("test", &logging.Logger{Logger: zap.New(core)})
	return tracer, logs
}

func TestStartSpanPropagates(t *testing.T) {
	tracer, _ := observedTracer(t)
	defer tracer.Close()

	root, ctx := tracer.StartSpan(context.Background(), "root")
	assert.True(t, strings.HasPrefix(string(root.TraceID), "trace_"))
	assert.Empty(t, root.ParentID)
	assert.Equal(t, root.TraceID, GetTraceID(ctx))
	assert.Equal(t, root.SpanID, GetSpanID(ctx))

	child, _ := tracer.StartSpan(ctx, "child")
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.NotEqual(t, root.SpanID, child.SpanID)
}

func TestRemoteParent(t *testing.T) {
	tracer, _ := observedTracer(t)
	defer tracer.Close()

	span, _ := tracer.StartSpan(WithRemote(context.Background(), "trace_up", "span_up"), "scan")
	assert.Equal(t, TraceID("trace_up"), span.TraceID)
	assert.Equal(t, SpanID("span_up"), span.ParentID)
}

func TestFieldWithoutTrace(t *testing.T) {
	assert.Equal(t, zap.Skip(), Field(context.Background()))
	f := Field(WithRemote(context.Background(), "trace_1", ""))
	assert.Equal(t, "trace_1", f.String)

	Annotate(context.Background(), zap.String("ignored", "x"))
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, logs := observedTracer(t)

	var seen TraceID
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/api/stats", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context())
		Annotate(c.Request.Context(), zap.String("site", "example.com"))
		c.Status(http.StatusNoContent)
	})
	router.POST("/api/scan", func(c *gin.Context) {
		_ = c.Error(errors.New("fetch failed"))
		c.Status(http.StatusBadGateway)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set(HeaderTraceID, "trace_upstream")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, TraceID("trace_upstream"), seen)
	assert.Equal(t, "trace_upstream", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.True(t, strings.HasPrefix(w.Header().Get(HeaderTraceID), "trace_"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/scan", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	tracer.Close()
	done := logs.FilterMessage("span completed").All()
	require.Len(t, done, 2)
	assert.Equal(t, "/api/stats", done[0].ContextMap()["operation"])
	assert.Equal(t, int64(http.StatusNoContent), done[0].ContextMap()["status"])
	assert.Equal(t, "example.com", done[0].ContextMap()["site"])
	assert.Equal(t, "unmatched", done[1].ContextMap()["operation"])

	failed := logs.FilterMessage("span failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "fetch failed", failed[0].ContextMap()["error"])
}
