package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-ingest/internal/http/response"
	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

// quietRoutes poll constantly; they log at debug unless they fail.
var quietRoutes = map[string]bool{
	"/healthcheck": true,
	"/readyz":      true,
	"/metrics":     true,
}

// RequestLogger writes one line per request once the handler returns. Handlers
// add the file and namespace they touched through response.TagFile.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	reqLog := log.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		fields := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes_in", c.Request.ContentLength,
			"bytes_out", c.Writer.Size(),
		}
		if route == "" {
			fields = append(fields, "path", c.Request.URL.Path)
		}
		fields = append(fields, identityFields(c)...)
		for _, k := range []struct{ key, field string }{
			{response.KeyFileID, "file_id"},
			{response.KeyNamespace, "namespace"},
			{response.KeyErrorCode, "error_code"},
		} {
			if v := c.GetString(k.key); v != "" {
				fields = append(fields, k.field, v)
			}
		}
		if last := c.Errors.Last(); last != nil {
			fields = append(fields, "error", last.Err)
		}

		switch {
		case status >= http.StatusInternalServerError:
			reqLog.Error("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			reqLog.Warn("HTTP request", fields...)
		case quietRoutes[route]:
			reqLog.Debug("HTTP request", fields...)
		default:
			reqLog.Info("HTTP request", fields...)
		}
	}
}

func identityFields(c *gin.Context) []interface{} {
	var out []interface{}
	ctx := c.Request.Context()
	if td := ctxutil.GetTraceData(ctx); td != nil {
		out = append(out, "request_id", td.RequestID, "trace_id", td.TraceID)
	}
	if rd := ctxutil.GetRequestData(ctx); rd != nil && rd.UserID != "" {
		out = append(out, "user_id", rd.UserID, "auth_source", rd.AuthSource)
		if len(rd.Roles) > 0 {
			out = append(out, "roles", rd.Roles)
		}
	}
	return out
}
