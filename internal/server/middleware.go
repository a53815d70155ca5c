package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/meterbill/internal/logger"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	"go.uber.org/zap"
)

const headerRequestID = "X-Request-Id"

// RequestLogger logs each request with its correlation identifiers.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		c.Next()

		status := c.Writer.Status()
		route := routeOf(c)
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes_out", normalizeSize(c.Writer.Size())),
		}
		if productCode := strings.TrimSpace(c.Param("mf_product_code")); productCode != "" {
			fields = append(fields, zap.String("metered_feature", productCode))
		}

		errorType := ""
		if lastErr := c.Errors.Last(); lastErr != nil {
			errorType = classifyError(lastErr.Err)
			fields = append(fields, zap.String("error_type", errorType), zap.Error(lastErr.Err))
		}

		logRequest(logger.WithContext(c.Request.Context(), log), route, status, errorType, fields)
	}
}

// RequestMetrics counts requests and their latency per route.
func RequestMetrics(m *obsmetrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set("request_id", requestID)
	c.Header(headerRequestID, requestID)
	return requestID
}

func logRequest(log *zap.Logger, route string, status int, errorType string, fields []zap.Field) {
	level := zap.InfoLevel
	switch {
	case status >= http.StatusInternalServerError:
		level = zap.ErrorLevel
	case route == "/metrics" || route == "/health":
		level = zap.DebugLevel
	case errorType != "" && status < http.StatusInternalServerError:
		level = zap.WarnLevel
	}

	if ce := log.Check(level, "http_request"); ce != nil {
		ce.Write(fields...)
	}
}

func routeOf(c *gin.Context) string {
	route := c.FullPath()
	if strings.TrimSpace(route) == "" {
		return "unknown"
	}
	return route
}

func normalizeSize(value int) int {
	if value < 0 {
		return 0
	}
	return value
}
