package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

const testSecret = "test-secret-key"

func signed(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func authRouter(cfg AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewAuthMiddleware(logger.Nop(), cfg).RequireAuth())
	r.GET("/whoami", func(c *gin.Context) {
		rd := ctxutil.GetRequestData(c.Request.Context())
		c.String(http.StatusOK, rd.AuthSource+":"+rd.UserID)
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	cases := []struct {
		name   string
		cfg    AuthConfig
		token  string
		header string
		status int
		body   string
	}{
		{"user_id claim", AuthConfig{JWTSecret: testSecret}, signed(t, testSecret, jwt.MapClaims{"user_id": "u-1", "exp": exp}), "", http.StatusOK, "jwt:u-1"},
		{"sub claim", AuthConfig{JWTSecret: testSecret}, signed(t, testSecret, jwt.MapClaims{"sub": "u-2", "exp": exp}), "", http.StatusOK, "jwt:u-2"},
		{"wrong secret", AuthConfig{JWTSecret: testSecret}, signed(t, "other", jwt.MapClaims{"sub": "u-2"}), "", http.StatusUnauthorized, ""},
		{"expired", AuthConfig{JWTSecret: testSecret}, signed(t, testSecret, jwt.MapClaims{"sub": "u-2", "exp": time.Now().Add(-time.Hour).Unix()}), "", http.StatusUnauthorized, ""},
		{"no user claim", AuthConfig{JWTSecret: testSecret}, signed(t, testSecret, jwt.MapClaims{"exp": exp}), "", http.StatusUnauthorized, ""},
		{"trusted header", AuthConfig{TrustUserHeader: true}, "", "u-3", http.StatusOK, "header:u-3"},
		{"untrusted header", AuthConfig{JWTSecret: testSecret}, "", "u-3", http.StatusUnauthorized, ""},
		{"nothing", AuthConfig{JWTSecret: testSecret, TrustUserHeader: true}, "", "", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			if tc.header != "" {
				req.Header.Set(HeaderUserID, tc.header)
			}
			rec := httptest.NewRecorder()
			authRouter(tc.cfg).ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("status: want=%d got=%d body=%s", tc.status, rec.Code, rec.Body.String())
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("body: want=%q got=%q", tc.body, rec.Body.String())
			}
		})
	}
}

func TestRequireAuthRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exp := time.Now().Add(time.Hour).Unix()
	r := gin.New()
	r.Use(NewAuthMiddleware(logger.Nop(), AuthConfig{JWTSecret: testSecret, TrustUserHeader: true}).RequireAuth())
	r.GET("/service", func(c *gin.Context) {
		if ctxutil.GetRequestData(c.Request.Context()).HasRole(ctxutil.RoleChannelService) {
			c.String(http.StatusOK, "service")
			return
		}
		c.String(http.StatusOK, "user")
	})

	cases := []struct {
		name   string
		token  string
		header string
		want   string
	}{
		{"role string", signed(t, testSecret, jwt.MapClaims{"sub": "relay", "role": "channel_service", "exp": exp}), "", "service"},
		{"roles list", signed(t, testSecret, jwt.MapClaims{"sub": "relay", "roles": []string{"reader", "channel_service"}, "exp": exp}), "", "service"},
		{"plain user", signed(t, testSecret, jwt.MapClaims{"sub": "u-1", "exp": exp}), "", "user"},
		{"header never elevates", "", "relay", "user"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/service", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			if tc.header != "" {
				req.Header.Set(HeaderUserID, tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK || rec.Body.String() != tc.want {
				t.Fatalf("want=%q got=%d %q", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAttachTraceContextEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/", func(c *gin.Context) {
		td := ctxutil.GetTraceData(c.Request.Context())
		c.String(http.StatusOK, td.RequestID)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Body.String(); got != "req-123" {
		t.Fatalf("request id: want=%q got=%q", "req-123", got)
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Fatal("expected a generated trace id header")
	}
}
