package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"callsync/internal/config"
)

func newRouter(cfg config.AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireRoleMiddleware(cfg, nil))
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/api/whoami", func(c *gin.Context) { c.String(http.StatusOK, Subject(c, "anonymous")) })
	return r
}

func sign(t *testing.T, secret, role, subject string) string {
	t.Helper()
	tok, _, err := JWT{Secret: []byte(secret), TokenTTL: time.Minute}.Sign(Claims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestRequireRoleMiddleware(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "s3cret", Role: "admin"}
	r := newRouter(cfg)

	cases := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"health open", "/healthz", "", http.StatusOK, "ok"},
		{"missing token", "/api/whoami", "", http.StatusUnauthorized, ""},
		{"garbage token", "/api/whoami", "Bearer nope", http.StatusUnauthorized, ""},
		{"wrong secret", "/api/whoami", "Bearer " + sign(t, "other", "admin", "x"), http.StatusUnauthorized, ""},
		{"wrong role", "/api/whoami", "Bearer " + sign(t, "s3cret", "viewer", "x"), http.StatusForbidden, ""},
		{"admin", "/api/whoami", "bearer " + sign(t, "s3cret", "ADMIN", "ops@example.com"), http.StatusOK, "ops@example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.status, w.Body.String())
			}
			if tc.body != "" && w.Body.String() != tc.body {
				t.Fatalf("body=%q want %q", w.Body.String(), tc.body)
			}
		})
	}
}

func TestRequireRoleMiddlewareDisabled(t *testing.T) {
	r := newRouter(config.AuthConfig{Disabled: true})
	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "anonymous" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	j := JWT{Secret: []byte("k")}
	tok, _, err := j.Sign(Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := j.Verify(tok); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
