package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tripora/credits-api/internal/pkg/jwt"
)

func TestAuthResolvesValidAccessToken(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	userID := uuid.New()
	token, err := jwtSvc.GenerateAccessToken(userID, "traveler")
	if err != nil {
		t.Fatalf("token gen failed: %v", err)
	}

	var got AuthContext
	handler := Auth(jwtSvc, "svc-key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAuthContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/credits", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got.Identity == nil || got.Identity.UserID != userID {
		t.Fatalf("expected identity %s, got %+v", userID, got.Identity)
	}
	if got.Privileged {
		t.Fatal("traveler role must not be privileged")
	}
}

func TestAuthDegradesInvalidTokenToAnonymous(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)

	var got AuthContext
	handler := Auth(jwtSvc, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAuthContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/credits", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("invalid token must not abort the request, got %d", w.Code)
	}
	if got.Identity != nil {
		t.Fatalf("expected no identity, got %+v", got.Identity)
	}
}

func TestAuthPrivilegeFromAdminRole(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	token, err := jwtSvc.GenerateAccessToken(uuid.New(), "admin")
	if err != nil {
		t.Fatalf("token gen failed: %v", err)
	}

	var got AuthContext
	handler := Auth(jwtSvc, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAuthContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/credits", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !got.Privileged {
		t.Fatal("admin role must be privileged")
	}
}

func TestAuthPrivilegeFromServiceKey(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)

	var got AuthContext
	handler := Auth(jwtSvc, "svc-key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAuthContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/credits", nil)
	req.Header.Set("X-Service-Key", "svc-key")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !got.Privileged {
		t.Fatal("matching service key must be privileged")
	}
	if got.Identity != nil {
		t.Fatalf("service key must not resolve an identity, got %+v", got.Identity)
	}

	got = AuthContext{}
	req = httptest.NewRequest(http.MethodPost, "/credits", nil)
	req.Header.Set("X-Service-Key", "wrong-key")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.Privileged {
		t.Fatal("wrong service key must not be privileged")
	}
}
