package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/suprole/replenishment/internal/platform/requestctx"
)

func TestTokenGuard_RejectsMissingToken(t *testing.T) {
	guard := NewTokenGuard("secret-token")
	called := false
	handler := guard.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

	if called {
		t.Fatalf("expected handler not to be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "unauthenticated" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestTokenGuard_RejectsWrongToken(t *testing.T) {
	guard := NewTokenGuard("secret-token")
	handler := guard.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set(TokenHeader, "secret-tokem")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTokenGuard_AcceptsHeaderAndBearer(t *testing.T) {
	guard := NewTokenGuard(" secret-token ")
	var actors []string
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actors = append(actors, requestctx.Actor(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TokenHeader, "secret-token")
	req.Header.Set(ActorHeader, "  tanaka\n")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for header token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for bearer token, got %d", rec.Code)
	}

	if len(actors) != 2 || actors[0] != "tanaka" || actors[1] != "" {
		t.Fatalf("unexpected actors %q", actors)
	}
}

func TestTokenGuard_DisabledWithoutToken(t *testing.T) {
	guard := NewTokenGuard("")
	if guard.Enabled() {
		t.Fatalf("expected guard to be disabled")
	}
	handler := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestNormaliseActor_TruncatesLongValues(t *testing.T) {
	got := normaliseActor(strings.Repeat("あ", maxActorLength+5))
	if len([]rune(got)) != maxActorLength {
		t.Fatalf("expected %d runes, got %d", maxActorLength, len([]rune(got)))
	}
}
