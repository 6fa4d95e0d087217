package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision is the outcome of one authenticator's look at a request.
type Decision int

const (
	// Allow means the credentials checked out. The chain stops and the
	// attached identity becomes the caller.
	Allow Decision = iota

	// Deny means credentials were presented and are invalid. The chain
	// stops and the request is rejected.
	Deny

	// Abstain means the request carries no credentials this authenticator
	// understands. The chain moves on to the next one.
	Abstain
)

// Result carries the outcome of an authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set only on Allow
	Err      error     // set only on Deny
}

// Identity is an authenticated caller of the job API.
type Identity struct {
	// Subject uniquely identifies the caller. Never empty on Allow.
	Subject string

	// ServiceTier selects the caller's rate-limit bucket.
	ServiceTier string

	// Scopes lists granted authorization scopes.
	Scopes []string

	// Metadata carries authenticator-specific extras. The "tenant_id"
	// key scopes job records in storage.
	Metadata map[string]string
}

// TenantID returns the tenant identifier from metadata, or empty string.
func (id *Identity) TenantID() string {
	if id == nil || id.Metadata == nil {
		return ""
	}
	return id.Metadata["tenant_id"]
}

// anonymous is the identity handed out when the chain defaults to Allow.
func anonymous() *Identity {
	return &Identity{Subject: "anonymous", ServiceTier: "default"}
}

// Authenticator examines request credentials and votes on them.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain runs authenticators in order until one of them commits to a
// decision. An all-abstain run falls through to DefaultDecision, so a
// worker with no credentials configured can still choose between open
// (Allow, for local development) and closed (Deny, for anything
// reachable from a network).
type Chain struct {
	// Authenticators are evaluated left to right.
	Authenticators []Authenticator

	// DefaultDecision applies when every authenticator abstains.
	DefaultDecision Decision
}

// Authenticate runs the chain, stopping at the first Allow or Deny.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		result := a.Authenticate(ctx, r)
		if result.Decision != Abstain {
			return result
		}
	}

	if c.DefaultDecision == Allow {
		return Result{Decision: Allow, Identity: anonymous()}
	}
	return Result{Decision: Deny, Err: ErrUnauthenticated}
}
