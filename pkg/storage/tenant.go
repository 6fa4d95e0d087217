package storage

import "context"

type tenantKey struct{}

// SetTenant scopes the context to one tenant's job records. The auth
// middleware calls this from the caller's identity.
func SetTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenant returns the tenant in scope, or "" in single-tenant mode.
// Stores treat the empty tenant as "no filtering".
func GetTenant(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantKey{}).(string)
	return tenant
}
