package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voltlink/backend/services/telemetry-service/internal/auth"
)

func TestRequireRole(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Minute)
	admin, _ := tokens.GenerateToken("ops", auth.RoleAdmin)
	viewer, _ := tokens.GenerateToken("ops", "viewer")

	var seen string
	handler := RequireRole(tokens, auth.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		seen = claims.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"wrong role", "Bearer " + viewer, http.StatusForbidden},
		{"admin", "Bearer " + admin, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/mappings", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
	if seen != "ops" {
		t.Fatalf("expected claims in context, got %q", seen)
	}
}
