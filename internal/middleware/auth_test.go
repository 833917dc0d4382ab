package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func bearerHandler(t *testing.T, secret string, wantReached bool) http.Handler {
	t.Helper()
	return RequireBearer(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !wantReached {
			t.Fatal("should not reach handler")
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRequireBearerValidToken(t *testing.T) {
	h := bearerHandler(t, "s3cret", true)

	req := httptest.NewRequest("GET", "/api/access/user_1", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequireBearerMissingToken(t *testing.T) {
	h := bearerHandler(t, "s3cret", false)

	req := httptest.NewRequest("GET", "/api/access/user_1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireBearerWrongToken(t *testing.T) {
	h := bearerHandler(t, "s3cret", false)

	req := httptest.NewRequest("GET", "/api/access/user_1", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireBearerQueryParam(t *testing.T) {
	h := bearerHandler(t, "s3cret", true)

	req := httptest.NewRequest("GET", "/api/events/stream?token=s3cret", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequireBearerEmptySecretFailsClosed(t *testing.T) {
	h := bearerHandler(t, "", false)

	req := httptest.NewRequest("GET", "/api/access/user_1", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
