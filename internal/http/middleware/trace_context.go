package middleware

import (
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
)

const (
	HeaderRequestID   = "X-Request-Id"
	HeaderTraceID     = "X-Trace-Id"
	headerTraceParent = "traceparent"

	maxRequestIDLen = 128
)

// AttachTraceContext gives every request a request id and a trace id and
// puts both in the context for logs, spans and indexer notifications.
//
// The trace id comes from the active span, then a W3C traceparent header,
// then X-Trace-Id, else a fresh one. A caller request id is kept only when it
// is short printable ASCII.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		reqID := cleanRequestID(c.GetHeader(HeaderRequestID))
		if reqID == "" {
			reqID = uuid.NewString()
		}

		span := trace.SpanFromContext(ctx)
		traceID := ""
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		if traceID == "" {
			traceID = traceIDFromParent(c.GetHeader(headerTraceParent))
		}
		if traceID == "" {
			traceID = cleanRequestID(c.GetHeader(HeaderTraceID))
		}
		if traceID == "" {
			id := uuid.New()
			traceID = hex.EncodeToString(id[:])
		}
		span.SetAttributes(attribute.String("http.request_id", reqID))

		c.Request = c.Request.WithContext(ctxutil.WithTraceData(ctx, &ctxutil.TraceData{
			TraceID:   traceID,
			RequestID: reqID,
		}))
		c.Header(HeaderRequestID, reqID)
		c.Header(HeaderTraceID, traceID)
		c.Next()
	}
}

// traceIDFromParent reads the trace-id field of "00-<trace>-<span>-<flags>".
func traceIDFromParent(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 4 || len(parts[1]) != 32 {
		return ""
	}
	id, err := trace.TraceIDFromHex(parts[1])
	if err != nil || !id.IsValid() {
		return ""
	}
	return id.String()
}

func cleanRequestID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > maxRequestIDLen {
		return ""
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return ""
		}
	}
	return s
}
