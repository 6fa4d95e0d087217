package storage

import (
	"context"
	"testing"
)

func TestTenantScoping(t *testing.T) {
	ctx := context.Background()

	if got := GetTenant(ctx); got != "" {
		t.Errorf("GetTenant on fresh context = %q, want empty", got)
	}

	ctx = SetTenant(ctx, "org-render-1")
	if got := GetTenant(ctx); got != "org-render-1" {
		t.Errorf("GetTenant = %q, want org-render-1", got)
	}

	// A later SetTenant shadows the earlier one.
	ctx = SetTenant(ctx, "org-render-2")
	if got := GetTenant(ctx); got != "org-render-2" {
		t.Errorf("GetTenant = %q, want org-render-2", got)
	}
}

func TestTenantKeyIsPrivate(t *testing.T) {
	// A plain string key must not leak into tenant scoping.
	ctx := context.WithValue(context.Background(), "tenant", "spoofed") //nolint:staticcheck
	if got := GetTenant(ctx); got != "" {
		t.Errorf("GetTenant matched a string key, got %q", got)
	}
}
