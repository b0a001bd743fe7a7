package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

const HeaderUserID = "X-User-Id"

type AuthConfig struct {
	// JWTSecret enables HS256 bearer tokens carrying user_id or sub.
	JWTSecret string
	// TrustUserHeader accepts X-User-Id from a trusted gateway.
	TrustUserHeader bool
}

type AuthMiddleware struct {
	log         *logger.Logger
	secret      []byte
	trustHeader bool
}

func NewAuthMiddleware(log *logger.Logger, cfg AuthConfig) *AuthMiddleware {
	middlewareLogger := log.With("middleware", "AuthMiddleware")
	return &AuthMiddleware{
		log:         middlewareLogger,
		secret:      []byte(strings.TrimSpace(cfg.JWTSecret)),
		trustHeader: cfg.TrustUserHeader,
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd, err := am.identify(c)
		if err != nil {
			am.log.Debug("Request rejected", "error", err, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": err.Error(), "code": "unauthorized"},
			})
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

func (am *AuthMiddleware) identify(c *gin.Context) (*ctxutil.RequestData, error) {
	if tokenString := extractToken(c); tokenString != "" && len(am.secret) > 0 {
		userID, roles, err := am.parseToken(tokenString)
		if err != nil {
			return nil, err
		}
		return &ctxutil.RequestData{UserID: userID, AuthSource: "jwt", Roles: roles}, nil
	}
	if am.trustHeader {
		if userID := strings.TrimSpace(c.GetHeader(HeaderUserID)); userID != "" {
			return &ctxutil.RequestData{UserID: userID, AuthSource: "header"}, nil
		}
	}
	return nil, errors.New("missing or invalid token")
}

func (am *AuthMiddleware) parseToken(tokenString string) (string, []string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", nil, fmt.Errorf("invalid token: %w", err)
	}
	for _, key := range []string{"user_id", "sub"} {
		if v, ok := claims[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), rolesFrom(claims), nil
		}
	}
	return "", nil, errors.New("token carries no user")
}

// rolesFrom reads "role" as a string and "roles" as a string or list.
func rolesFrom(claims jwt.MapClaims) []string {
	var out []string
	add := func(v any) {
		switch x := v.(type) {
		case string:
			out = append(out, strings.Fields(x)...)
		case []any:
			for _, item := range x {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
		}
	}
	add(claims["role"])
	add(claims["roles"])
	return out
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}
