package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/suprole/replenishment/internal/platform/httpx"
	"github.com/suprole/replenishment/internal/platform/requestctx"
)

const (
	// TokenHeader carries the shared application token.
	TokenHeader = "X-App-Token"
	// ActorHeader names the operator issuing the request; it is recorded in the audit columns.
	ActorHeader = "X-App-Actor"

	maxActorLength = 128
)

// TokenGuard rejects requests that do not present the shared token. An empty token disables the
// check so local development works without configuration.
type TokenGuard struct {
	token []byte
}

// NewTokenGuard constructs the guard.
func NewTokenGuard(token string) *TokenGuard {
	return &TokenGuard{token: []byte(strings.TrimSpace(token))}
}

// Enabled reports whether requests are checked.
func (g *TokenGuard) Enabled() bool {
	return g != nil && len(g.token) > 0
}

// Middleware verifies the token header and records the actor header on the request context.
func (g *TokenGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Enabled() {
			presented := strings.TrimSpace(r.Header.Get(TokenHeader))
			if presented == "" {
				presented, _ = extractBearerToken(r.Header.Get("Authorization"))
			}
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), g.token) != 1 {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "missing or invalid application token", http.StatusUnauthorized))
				return
			}
		}

		ctx := r.Context()
		if actor := normaliseActor(r.Header.Get(ActorHeader)); actor != "" {
			ctx = requestctx.WithActor(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func normaliseActor(raw string) string {
	actor := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if len([]rune(actor)) > maxActorLength {
		actor = string([]rune(actor)[:maxActorLength])
	}
	return actor
}
