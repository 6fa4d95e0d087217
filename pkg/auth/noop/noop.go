// Package noop provides an authenticator that lets every request
// through as an anonymous default-tier caller. It exists for local
// development and as an explicit opt-out in configuration.
package noop

import (
	"context"
	"net/http"

	"github.com/comfypod/comfypod/pkg/auth"
)

// Authenticator always votes Allow.
type Authenticator struct{}

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.Result {
	return auth.Result{
		Decision: auth.Allow,
		Identity: &auth.Identity{
			Subject:     "anonymous",
			ServiceTier: "default",
		},
	}
}
