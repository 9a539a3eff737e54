package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func serveAdmin(t *testing.T, secret, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/admin/calendar/2025-03-11", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	operator := ""
	AdminJWT(secret, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, _ = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec, operator
}

func TestAdminJWT(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		header   string
		wantCode int
		wantOp   string
	}{
		{name: "auth disabled", secret: "", header: "Bearer " + signedAdminToken(t, "secret", "ops"), wantCode: http.StatusUnauthorized},
		{name: "missing header", secret: "secret", wantCode: http.StatusUnauthorized},
		{name: "wrong secret", secret: "secret", header: "Bearer " + signedAdminToken(t, "wrong", "ops"), wantCode: http.StatusUnauthorized},
		{name: "no subject", secret: "secret", header: "Bearer " + signedAdminToken(t, "secret", ""), wantCode: http.StatusUnauthorized},
		{name: "valid", secret: "secret", header: "Bearer " + signedAdminToken(t, "secret", "ops"), wantCode: http.StatusOK, wantOp: "ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, op := serveAdmin(t, tt.secret, tt.header)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if op != tt.wantOp {
				t.Fatalf("expected operator %q, got %q", tt.wantOp, op)
			}
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	var seen string
	h := RequireAPIKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = APIKeyFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/active-schedules", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/active-schedules", nil)
	req.Header.Set(APIKeyHeader, " key-1 ")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != "key-1" {
		t.Fatalf("expected key-1 to pass, got %d %q", rec.Code, seen)
	}
}

func signedAdminToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
