/*
Package tracing tags API requests with trace and span ids.

Each request gets a span named after its route. A caller-supplied X-Trace-ID
(and optional X-Span-ID) continues that trace; otherwise a prefixed ULID is
minted. The ids travel in the request context, so scans started by the
request log under the same trace, and handlers can Annotate the span with
what they did, such as the scan id and site.

Finished spans are queued and written by a collector goroutine. A full
queue drops spans.

	tracer := tracing.New("api", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	logger.Info("scan started", tracing.Field(ctx))
*/
package tracing
