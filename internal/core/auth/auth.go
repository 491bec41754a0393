// Package auth implements the authorization gate (spec.md §4.3): a
// constant-time api-secret compare, a separate admin secret, and an
// opaque-token store carrying a per-token module allow-list. Grounded on
// `location.Store`'s AOR→bindings TTL-backed map, generalized here from
// "address of record" to "opaque token", reusing the same
// internal/core/store.TTLStore container a token's allow-list is tracked in.
package auth

import (
	"crypto/subtle"
	"time"

	"github.com/gatewaycore/core/internal/core/store"
)

// Gate checks inbound requests against the configured api secret, admin
// secret, and (when token auth is enabled) the token allow-list.
type Gate struct {
	apiSecret   string
	adminSecret string
	tokenAuth   bool

	tokens *store.TTLStore[string, map[string]struct{}]
}

// New builds a Gate. cleanupInterval is how often the token store drops
// expired tokens (0 or less means one minute); each token's own expiry is
// set when it is added.
func New(apiSecret, adminSecret string, tokenAuth bool, cleanupInterval time.Duration) *Gate {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &Gate{
		apiSecret:   apiSecret,
		adminSecret: adminSecret,
		tokenAuth:   tokenAuth,
		tokens:      store.New[string, map[string]struct{}](cleanupInterval),
	}
}

// APISecretConfigured reports whether an api secret has been set at all.
func (g *Gate) APISecretConfigured() bool { return g.apiSecret != "" }

// CheckAPISecret reports whether the supplied secret matches the
// configured one, in constant time. An empty configured secret means the
// check does not apply — this returns false rather than auto-passing, so
// callers fall through to the token check instead of silently bypassing
// it (spec.md §4.3).
func (g *Gate) CheckAPISecret(supplied string) bool {
	if g.apiSecret == "" {
		return false
	}
	return constantTimeEqual(g.apiSecret, supplied)
}

// CheckAdminSecret reports whether the supplied secret matches the admin
// secret, in constant time. An empty configured secret rejects everything
// — there is no "admin channel open to anyone" default.
func (g *Gate) CheckAdminSecret(supplied string) bool {
	if g.adminSecret == "" {
		return false
	}
	return constantTimeEqual(g.adminSecret, supplied)
}

// TokenAuthEnabled reports whether token auth gating is turned on.
func (g *Gate) TokenAuthEnabled() bool { return g.tokenAuth }

// AddToken registers a new token with an initial allow-list (possibly
// empty — a token with no plugins allowed can still authenticate but
// attaches to nothing). ttl of 0 means the token never expires on its own.
func (g *Gate) AddToken(token string, allowed []string, ttl time.Duration) {
	set := make(map[string]struct{}, len(allowed))
	for _, pkg := range allowed {
		set[pkg] = struct{}{}
	}
	if ttl <= 0 {
		ttl = 100 * 365 * 24 * time.Hour // effectively forever
	}
	g.tokens.Set(token, set, ttl)
}

// RemoveToken revokes a token outright.
func (g *Gate) RemoveToken(token string) {
	g.tokens.Delete(token)
}

// AllowPlugin adds pkg to token's allow-list, reporting whether the token
// exists.
func (g *Gate) AllowPlugin(token, pkg string) bool {
	entry, ok := g.tokens.GetEntry(token)
	if !ok {
		return false
	}
	entry.Value[pkg] = struct{}{}
	g.tokens.Set(token, entry.Value, time.Until(entry.ExpiresAt))
	return true
}

// DisallowPlugin removes pkg from token's allow-list, reporting whether
// the token exists.
func (g *Gate) DisallowPlugin(token, pkg string) bool {
	entry, ok := g.tokens.GetEntry(token)
	if !ok {
		return false
	}
	delete(entry.Value, pkg)
	g.tokens.Set(token, entry.Value, time.Until(entry.ExpiresAt))
	return true
}

// TokenKnown reports whether token is a registered, unexpired token.
func (g *Gate) TokenKnown(token string) bool {
	_, ok := g.tokens.Get(token)
	return ok
}

// TokenAllowsPlugin reports whether token is known and its allow-list
// contains pkg. When token auth is disabled this always returns true.
func (g *Gate) TokenAllowsPlugin(token, pkg string) bool {
	if !g.tokenAuth {
		return true
	}
	set, ok := g.tokens.Get(token)
	if !ok {
		return false
	}
	_, allowed := set[pkg]
	return allowed
}

// ListTokens returns every currently registered token string, for the
// admin list_tokens verb.
func (g *Gate) ListTokens() []string {
	var out []string
	g.tokens.ForEach(func(token string, _ map[string]struct{}) bool {
		out = append(out, token)
		return true
	})
	return out
}

// Close stops the token store's cleanup goroutine.
func (g *Gate) Close() { g.tokens.Close() }

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
