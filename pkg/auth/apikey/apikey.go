// Package apikey authenticates bearer tokens against a static set of
// API keys. Keys are hashed with SHA-256 at construction and compared
// in constant time, so the plaintext never sits in memory beyond
// startup and lookups do not leak timing.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/comfypod/comfypod/pkg/auth"
)

// RawKeyEntry pairs a plaintext key with the identity it grants. This
// is the configuration-facing form; New hashes it immediately.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

type keyEntry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator validates bearer tokens against the configured keys.
type Authenticator struct {
	keys []keyEntry
}

// New creates an API key authenticator from raw key entries.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{keys: make([]keyEntry, 0, len(entries))}
	for _, e := range entries {
		a.keys = append(a.keys, keyEntry{
			hash:     sha256.Sum256([]byte(e.Key)),
			identity: e.Identity,
		})
	}
	return a
}

// Authenticate checks the Authorization header. Requests without a
// Bearer scheme abstain so another authenticator in the chain can have
// a look; a Bearer token that matches no key is a hard Deny.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	token, ok := bearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.Result{Decision: auth.Deny, Err: auth.ErrUnauthenticated}
	}

	sum := sha256.Sum256([]byte(token))
	for _, e := range a.keys {
		if subtle.ConstantTimeCompare(sum[:], e.hash[:]) == 1 {
			id := e.identity
			return auth.Result{Decision: auth.Allow, Identity: &id}
		}
	}

	return auth.Result{Decision: auth.Deny, Err: auth.ErrUnauthenticated}
}

// bearerToken extracts the token from a Bearer Authorization header.
// The second return is false when the header is absent or uses another
// scheme.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), true
}
