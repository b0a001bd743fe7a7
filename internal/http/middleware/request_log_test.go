package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yungbote/neurobridge-ingest/internal/http/response"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &logger.Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestRequestLoggerCarriesFileAndTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, logs := observedLogger()
	r := gin.New()
	r.Use(AttachTraceContext(), RequestLogger(log))
	r.GET("/api/files/:id", func(c *gin.Context) {
		response.TagFile(c, "file-1", "nb-ns-abc")
		c.Status(http.StatusOK)
	})
	r.GET("/healthcheck", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/broken", func(c *gin.Context) {
		response.RespondError(c, http.StatusServiceUnavailable, "object_store_unavailable", nil)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/files/file-1", nil)
	req.Header.Set(HeaderRequestID, "req-9")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/broken", nil))

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("entries: want=3 got=%d", len(entries))
	}
	first := entries[0].ContextMap()
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("level: want=info got=%s", entries[0].Level)
	}
	for k, want := range map[string]string{"route": "/api/files/:id", "file_id": "file-1", "namespace": "nb-ns-abc", "request_id": "req-9"} {
		if first[k] != want {
			t.Fatalf("%s: want=%q got=%v", k, want, first[k])
		}
	}
	if first["trace_id"] == "" || first["trace_id"] == nil {
		t.Fatal("expected a trace id field")
	}
	if entries[1].Level != zapcore.DebugLevel {
		t.Fatalf("health level: want=debug got=%s", entries[1].Level)
	}
	if entries[2].Level != zapcore.ErrorLevel || entries[2].ContextMap()["error_code"] != "object_store_unavailable" {
		t.Fatalf("failure entry: level=%s fields=%v", entries[2].Level, entries[2].ContextMap())
	}
}

func TestAttachTraceContextTraceParent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		name   string
		header map[string]string
		trace  string
		reqID  string
	}{
		{"traceparent", map[string]string{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}, "4bf92f3577b34da6a3ce929d0e0e4736", ""},
		{"zero traceparent falls back", map[string]string{"traceparent": "00-00000000000000000000000000000000-00f067aa0ba902b7-01", HeaderTraceID: "legacy-trace"}, "legacy-trace", ""},
		{"unprintable request id replaced", map[string]string{HeaderRequestID: "bad id\n"}, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if got := rec.Header().Get(HeaderTraceID); tc.trace != "" && got != tc.trace {
				t.Fatalf("trace id: want=%q got=%q", tc.trace, got)
			}
			if got := rec.Header().Get(HeaderRequestID); got == "" || got == tc.header[HeaderRequestID] {
				t.Fatalf("request id: got=%q", got)
			}
		})
	}
}
