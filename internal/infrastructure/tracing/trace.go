package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/shared/id"
)

// Header names used for trace propagation.
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

const spanBuffer = 1000

type (
	TraceID string
	SpanID  string
)

// Span is one timed operation. Fields added with Annotate are written with
// the span when it finishes.
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Start    time.Time
	Duration time.Duration
	Status   int
	Err      error

	mu     sync.Mutex
	fields []zap.Field
}

// Annotate attaches fields to the span.
func (s *Span) Annotate(fields ...zap.Field) {
	s.mu.Lock()
	s.fields = append(s.fields, fields...)
	s.mu.Unlock()
}

// End records the duration, status and error of the span.
func (s *Span) End(status int, err error) {
	s.Duration = time.Since(s.Start)
	s.Status = status
	s.Err = err
}

// Tracer writes finished spans to the log from a collector goroutine.
type Tracer struct {
	service string
	logger  *logging.Logger
	queue   chan *Span
	done    chan struct{}
	once    sync.Once
}

// New creates a tracer and starts its collector. Call Close to stop it.
func New(service string, logger *logging.Logger) *Tracer {
	if logger == nil {
		logger = logging.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger.Named("trace").With(zap.String("service", service)),
		queue:   make(chan *Span, spanBuffer),
		done:    make(chan struct{}),
	}
	go t.collect()
	return t
}

// StartSpan opens a span under the trace carried by ctx, or starts a trace.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	span := &Span{
		TraceID: GetTraceID(ctx),
		SpanID:  SpanID(id.Default().Generate().String()),
		Name:    name,
		Start:   time.Now(),
	}
	if span.TraceID == "" {
		span.TraceID = TraceID(id.Default().WithPrefix("trace"))
	}
	if parent := spanFrom(ctx); parent != nil {
		span.ParentID = parent.SpanID
	}
	return span, context.WithValue(ctx, spanKey{}, span)
}

// Submit queues a finished span. Spans are dropped when the queue is full.
func (t *Tracer) Submit(span *Span) {
	select {
	case t.queue <- span:
	default:
		t.logger.Warn("span queue full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("operation", span.Name),
		)
	}
}

// Close drains queued spans and stops the collector. Submit must not be
// called afterwards.
func (t *Tracer) Close() {
	t.once.Do(func() { close(t.queue) })
	<-t.done
}

func (t *Tracer) collect() {
	defer close(t.done)
	for span := range t.queue {
		t.write(span)
	}
}

func (t *Tracer) write(span *Span) {
	span.mu.Lock()
	fields := make([]zap.Field, 0, len(span.fields)+6)
	fields = append(fields,
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
		zap.Int("status", span.Status),
	)
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	fields = append(fields, span.fields...)
	span.mu.Unlock()

	if span.Err != nil {
		t.logger.Warn("span failed", append(fields, zap.Error(span.Err))...)
		return
	}
	t.logger.Debug("span completed", fields...)
}

type spanKey struct{}

func spanFrom(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// WithRemote returns ctx continuing a trace begun by a caller. parent may
// be empty.
func WithRemote(ctx context.Context, traceID TraceID, parent SpanID) context.Context {
	return context.WithValue(ctx, spanKey{}, &Span{TraceID: traceID, SpanID: parent})
}

// GetTraceID returns the trace carried by ctx, or "".
func GetTraceID(ctx context.Context) TraceID {
	if span := spanFrom(ctx); span != nil {
		return span.TraceID
	}
	return ""
}

// GetSpanID returns the innermost span carried by ctx, or "".
func GetSpanID(ctx context.Context) SpanID {
	if span := spanFrom(ctx); span != nil {
		return span.SpanID
	}
	return ""
}

// Annotate adds fields to the span carried by ctx. It does nothing when
// ctx has no span.
func Annotate(ctx context.Context, fields ...zap.Field) {
	if span := spanFrom(ctx); span != nil {
		span.Annotate(fields...)
	}
}

// Field names the trace carried by ctx, or skips when there is none.
func Field(ctx context.Context) zap.Field {
	if traceID := GetTraceID(ctx); traceID != "" {
		return zap.String("trace_id", string(traceID))
	}
	return zap.Skip()
}
