package server

import (
	"net/http"
	"strings"
	"time"

	"drillflow/internal/logging"
	"drillflow/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// JSONMiddleware rejects request bodies that are not JSON.
func JSONMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			contentType := c.GetHeader("Content-Type")
			if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, APIResponse{
					Success: false,
					Error:   "Content-Type must be application/json",
				})
				return
			}
		}
		c.Next()
	}
}

const requestIDHeader = "X-Request-ID"

// ObservabilityMiddleware tags each request with a log id, traces it and
// logs its latency. An incoming X-Request-ID is reused as the log id.
func ObservabilityMiddleware(tracer *observability.TracerProvider, logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		logID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if logID == "" {
			logID = uuid.NewString()
		}
		c.Header(requestIDHeader, logID)
		ctx := observability.ContextWithLogID(c.Request.Context(), logID)
		ctx, span := tracer.StartSpan(ctx, observability.SpanHTTPServer,
			attribute.String("http.route", route),
			attribute.String("http.method", c.Request.Method),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		observability.EndSpan(span, err)

		logging.FromContext(ctx, logger).Info("route=%s method=%s status=%d latency_ms=%.2f bytes=%d",
			route,
			c.Request.Method,
			status,
			float64(time.Since(start).Microseconds())/1000.0,
			c.Writer.Size(),
		)
	}
}
