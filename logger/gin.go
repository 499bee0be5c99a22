package logger

import (
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware replaces gin's default request logger
func GinMiddleware(l Logger) gin.HandlerFunc {
	l = OrNoop(l)
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		fields := map[string]any{
			"method":   ctx.Request.Method,
			"path":     ctx.Request.URL.Path,
			"status":   ctx.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   ctx.ClientIP(),
		}
		if len(ctx.Errors) > 0 {
			fields["errors"] = ctx.Errors.String()
		}

		switch {
		case ctx.Writer.Status() >= 500:
			l.Error("request", fields)
		case ctx.Writer.Status() >= 400:
			l.Warn("request", fields)
		default:
			l.Info("request", fields)
		}
	}
}
