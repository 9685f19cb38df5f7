// Package tracing provides OpenTelemetry tracing integration.
//
// Middleware starts a server span for every HTTP request, extracting any
// incoming trace context, and GetTracer returns the shared tracer for manual
// spans. The package installs no tracer provider or exporter; spans go to
// whatever provider is registered globally with otel.
//
// Example usage:
//
//	import "mynewslens/internal/observability/tracing"
//
//	handler = tracing.Middleware(handler)
//
//	func processRequest(ctx context.Context) {
//	    ctx, span := tracing.GetTracer().Start(ctx, "process-request")
//	    defer span.End()
//	    // ... process request ...
//	}
package tracing
