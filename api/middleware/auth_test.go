package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgAuth "github.com/angelmondragon/wasessions-backend/pkg/auth"
	"github.com/angelmondragon/wasessions-backend/pkg/config"
)

func testJWT() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "wasessions", ExpirationMinutes: 5}
}

func mint(t *testing.T, tenant string, role pkgAuth.Role) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testJWT(), time.Now(), pkgAuth.AccessTokenPayload{TenantID: tenant, Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestAuthSeedsTenantAndRole(t *testing.T) {
	var actor Actor
	handler := Auth(testJWT(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1", nil)
	req.Header.Set("Authorization", "Bearer "+mint(t, "tenant-a", pkgAuth.RoleOperator))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if actor.TenantID != "tenant-a" || actor.Role != pkgAuth.RoleOperator {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	handler := Auth(testJWT(), nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(pkgAuth.RoleAdmin, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRole(req.Context(), pkgAuth.RoleOperator))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRole(req.Context(), pkgAuth.RoleAdmin))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected admin to pass, got %d", rec.Code)
	}
}

func TestRequireRoleLetsAdminThroughOperatorRoutes(t *testing.T) {
	handler := RequireRole(pkgAuth.RoleOperator, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRole(WithTenantID(req.Context(), "tenant-a"), pkgAuth.RoleAdmin))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected admin to satisfy operator routes, got %d", rec.Code)
	}
	if got := TenantIDFromContext(req.Context()); got != "tenant-a" {
		t.Fatalf("role update dropped tenant, got %q", got)
	}
}

func TestBearerTokenSchemes(t *testing.T) {
	for header, want := range map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"abc":          "abc",
		"":             "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		if got := bearerToken(req); got != want {
			t.Fatalf("header %q: expected %q, got %q", header, want, got)
		}
	}
}
