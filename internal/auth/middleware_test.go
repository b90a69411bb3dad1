package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prompt-minder/promptminder/pkg/models"
)

func authedHandler(t *testing.T, gotUser **models.User) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		*gotUser = user
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareBearerJWT(t *testing.T) {
	service := NewService(Config{JWTSecret: "secret", TokenExpiry: time.Hour})
	token, err := service.GenerateJWT(&models.User{ID: "user-1"})
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}

	var gotUser *models.User
	handler := Middleware(service, nil)(authedHandler(t, &gotUser))

	req := httptest.NewRequest(http.MethodGet, "/api/ab-tests", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotUser == nil || gotUser.ID != "user-1" {
		t.Fatalf("user = %+v, want user-1", gotUser)
	}
}

func TestMiddlewareAPIKeyHeader(t *testing.T) {
	service := NewService(Config{APIKeys: []APIKeyConfig{{Key: "abc123", UserID: "user-2"}}})

	var gotUser *models.User
	handler := Middleware(service, nil)(authedHandler(t, &gotUser))

	req := httptest.NewRequest(http.MethodGet, "/api/ab-tests", nil)
	req.Header.Set("X-API-Key", "abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotUser == nil || gotUser.ID != "user-2" {
		t.Fatalf("user = %+v, want user-2", gotUser)
	}
}

func TestMiddlewareBearerAPIKeyFallback(t *testing.T) {
	service := NewService(Config{
		JWTSecret: "secret",
		APIKeys:   []APIKeyConfig{{Key: "abc123", UserID: "user-3"}},
	})

	var gotUser *models.User
	handler := Middleware(service, nil)(authedHandler(t, &gotUser))

	req := httptest.NewRequest(http.MethodGet, "/api/ab-tests", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotUser == nil || gotUser.ID != "user-3" {
		t.Fatalf("user = %+v, want user-3", gotUser)
	}
}

func TestMiddlewareRejectsMissingCredentials(t *testing.T) {
	service := NewService(Config{JWTSecret: "secret"})
	handler := Middleware(service, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/ab-tests", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	service := NewService(Config{JWTSecret: "secret"})
	handler := Middleware(service, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/ab-tests", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	handler := Middleware(NewService(Config{}), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/ab-tests", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
