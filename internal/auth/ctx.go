package auth

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

type ctxKey int

const claimsCtxKey ctxKey = 1

func WithClaims(ctx context.Context, c Claims) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, claimsCtxKey, c)
}

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	if ctx == nil {
		return Claims{}, false
	}
	c, ok := ctx.Value(claimsCtxKey).(Claims)
	return c, ok
}

// Subject names the caller of a request for audit fields, falling back to
// fallback when the request carried no verified token.
func Subject(c *gin.Context, fallback string) string {
	if c == nil || c.Request == nil {
		return fallback
	}
	claims, ok := ClaimsFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return fallback
	}
	return strings.TrimSpace(claims.Subject)
}
