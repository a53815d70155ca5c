package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request and tags it with the route,
// the status and the error kind reported by the handler.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("meterbill/http")
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		span.SetName(c.Request.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.request.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		)

		last := c.Errors.Last()
		if last == nil {
			return
		}
		span.SetAttributes(attribute.String("meterbill.error.kind", ierr.KindOf(last.Err).Code))
		if status >= http.StatusInternalServerError {
			span.RecordError(last.Err)
			span.SetStatus(codes.Error, ierr.KindOf(last.Err).Code)
		}
	}
}
