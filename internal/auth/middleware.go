package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callsync/internal/config"
)

// RequireRoleMiddleware guards /api, /swagger and /docs with a bearer JWT
// carrying cfg.Role. Health and metrics endpoints stay open.
func RequireRoleMiddleware(cfg config.AuthConfig, logger *zap.Logger) gin.HandlerFunc {
	if cfg.Disabled {
		if logger != nil {
			logger.Warn("admin auth disabled")
		}
		return func(c *gin.Context) { c.Next() }
	}
	verifier := JWT{Secret: []byte(cfg.JWTSecret)}
	role := strings.TrimSpace(cfg.Role)

	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if p == "/healthz" || p == "/readyz" || p == "/metrics" {
			c.Next()
			return
		}
		if !(strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/swagger") || p == "/docs") {
			c.Next()
			return
		}
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "missing bearer token"})
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "invalid token"})
			return
		}
		if role != "" && !strings.EqualFold(claims.Role, role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "insufficient role"})
			return
		}
		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
