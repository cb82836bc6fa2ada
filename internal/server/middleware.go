package server

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lk2023060901/filedepot/internal/conf"
	"github.com/lk2023060901/filedepot/internal/pkg/response"
)

// HealthChecker reports the state of each backing dependency, keyed by name.
type HealthChecker interface {
	Check(ctx context.Context) map[string]error
}

// AdminAuth guards maintenance endpoints with an HS256 bearer token. With no
// secret configured, admin endpoints are refused outright rather than left
// open.
func AdminAuth(cfg conf.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AdminJWTSecret == "" {
			response.Unauthorized(c, "admin endpoints are not configured")
			c.Abort()
			return
		}

		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}

		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if cfg.JWTIssuer != "" {
			opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
		}
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			return []byte(cfg.AdminJWTSecret), nil
		}, opts...)
		if err != nil || !token.Valid {
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		c.Next()
	}
}
