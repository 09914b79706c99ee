package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var testSecret = []byte("overlay-operator-secret-32-bytes")

func sign(t *testing.T, secret []byte, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func claimsFor(sub, role, iss string, exp time.Time) Claims {
	c := Claims{Role: role}
	c.Subject = sub
	c.Issuer = iss
	c.IssuedAt = jwt.NewNumericDate(time.Now())
	if !exp.IsZero() {
		c.ExpiresAt = jwt.NewNumericDate(exp)
	}
	return c
}

func TestJWTVerifier_Parse(t *testing.T) {
	future := time.Now().Add(time.Hour)
	verifier := JWTVerifier{Secret: testSecret, Issuer: "scoring"}

	cases := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid", sign(t, testSecret, jwt.SigningMethodHS256, claimsFor("admin", RoleAdmin, "scoring", future)), true},
		{"expired", sign(t, testSecret, jwt.SigningMethodHS256, claimsFor("admin", RoleAdmin, "scoring", time.Now().Add(-time.Hour))), false},
		{"no exp", sign(t, testSecret, jwt.SigningMethodHS256, claimsFor("admin", RoleAdmin, "scoring", time.Time{})), false},
		{"wrong secret", sign(t, []byte("another-secret"), jwt.SigningMethodHS256, claimsFor("admin", RoleAdmin, "scoring", future)), false},
		{"foreign issuer", sign(t, testSecret, jwt.SigningMethodHS256, claimsFor("admin", RoleAdmin, "billing", future)), false},
		{"hs512", sign(t, testSecret, jwt.SigningMethodHS512, claimsFor("admin", RoleAdmin, "scoring", future)), false},
		{"garbage", "not.a.jwt", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := verifier.Parse(tc.token)
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if claims.Subject != "admin" || claims.Role != RoleAdmin {
					t.Fatalf("unexpected claims %+v", claims)
				}
				return
			}
			if err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestJWTVerifier_Leeway(t *testing.T) {
	tok := sign(t, testSecret, jwt.SigningMethodHS256, claimsFor("admin", RoleAdmin, "", time.Now().Add(-5*time.Second)))
	if _, err := (JWTVerifier{Secret: testSecret}).Parse(tok); err == nil {
		t.Fatal("expected expiry without leeway")
	}
	if _, err := (JWTVerifier{Secret: testSecret, Leeway: 30 * time.Second}).Parse(tok); err != nil {
		t.Fatalf("leeway should accept slightly expired token: %v", err)
	}
}

func TestRequireUser(t *testing.T) {
	good := sign(t, testSecret, jwt.SigningMethodHS256, claimsFor("operator", RoleAdmin, "", time.Now().Add(time.Hour)))
	noSub := sign(t, testSecret, jwt.SigningMethodHS256, claimsFor("", RoleAdmin, "", time.Now().Add(time.Hour)))

	cases := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"valid bearer", "Bearer " + good, http.StatusOK},
		{"lowercase scheme", "bearer " + good, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"empty subject", "Bearer " + noSub, http.StatusUnauthorized},
		{"bad token", "Bearer abc", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sub, role string
			h := RequireUser(JWTVerifier{Secret: testSecret})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sub, _ = SubjectFromContext(r.Context())
				role, _ = RoleFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodPost, "/v1/control/start", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantCode {
				t.Fatalf("code = %d, want %d", rr.Code, tc.wantCode)
			}
			if tc.wantCode == http.StatusOK && (sub != "operator" || role != RoleAdmin) {
				t.Fatalf("context not populated: sub=%q role=%q", sub, role)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	cases := []struct {
		name     string
		ctx      context.Context
		wantCode int
	}{
		{"admin", WithRole(context.Background(), RoleAdmin), http.StatusOK},
		{"upper case", WithRole(context.Background(), "ADMIN"), http.StatusOK},
		{"viewer", WithRole(context.Background(), "viewer"), http.StatusForbidden},
		{"no role", context.Background(), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodPost, "/v1/winner/select", nil).WithContext(tc.ctx)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.wantCode {
				t.Fatalf("code = %d, want %d", rr.Code, tc.wantCode)
			}
		})
	}
}

func TestIssuer_RoundTrip(t *testing.T) {
	fixed := time.Now().Truncate(time.Second)
	iss := Issuer{Secret: testSecret, Name: "scoring", TTL: time.Hour, Now: func() time.Time { return fixed }}
	tok, exp, err := iss.Issue("operator", RoleAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(fixed.Add(time.Hour)) {
		t.Fatalf("exp = %s, want %s", exp, fixed.Add(time.Hour))
	}
	claims, err := JWTVerifier{Secret: testSecret, Issuer: "scoring"}.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "operator" || claims.Role != RoleAdmin || claims.Issuer != "scoring" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := (JWTVerifier{Secret: testSecret, Issuer: "other"}).Parse(tok); err == nil {
		t.Fatal("verifier for another issuer must reject the token")
	}
}

func TestIssuer_EmptySecret(t *testing.T) {
	if _, _, err := (Issuer{}).Issue("operator", RoleAdmin); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestCheckPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(string(hash), "s3cret") {
		t.Fatal("expected match")
	}
	if CheckPassword(string(hash), "wrong") {
		t.Fatal("expected mismatch")
	}
	if CheckPassword("", "s3cret") {
		t.Fatal("empty hash must never match")
	}
}
