package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/terrain-streamer/internal/logging"
)

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
// Служебные пути (/health, /metrics) пишутся на уровне DEBUG, чтобы не засорять лог опросами.
type RequestLogger struct {
	logger *logging.Logger
	quiet  map[string]struct{}
}

func NewRequestLogger(quietPaths ...string) *RequestLogger {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}
	return &RequestLogger{
		logger: logging.GetComponentLogger("http"),
		quiet:  quiet,
	}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Пытаемся извлечь trace-id из OpenTelemetry, если уже создан.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)
		c.Header("X-Trace-Id", traceID)

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		logf := rl.logger.Info
		if _, ok := rl.quiet[path]; ok {
			logf = rl.logger.Debug
		}
		logf("[HTTP] %s %s %d %s ip=%s trace=%s",
			c.Request.Method, path, c.Writer.Status(), time.Since(start), c.ClientIP(), traceID)
	}
}
