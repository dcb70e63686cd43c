// ABOUTME: Tests for context-based user propagation
// ABOUTME: Verifies ContextIdentity resolves the user the middleware stored

package auth

import (
	"context"
	"errors"
	"testing"
)

func TestUserFromContext(t *testing.T) {
	ctx := WithUser(context.Background(), "user-1")

	id, ok := UserFromContext(ctx)
	if !ok {
		t.Fatal("expected user in context")
	}
	if id != "user-1" {
		t.Errorf("id = %q, want %q", id, "user-1")
	}
}

func TestUserFromContextAbsent(t *testing.T) {
	if _, ok := UserFromContext(context.Background()); ok {
		t.Error("expected no user in empty context")
	}
}

func TestUserFromContextEmptyID(t *testing.T) {
	ctx := WithUser(context.Background(), "")
	if _, ok := UserFromContext(ctx); ok {
		t.Error("empty user id must not count as authenticated")
	}
}

func TestContextIdentity(t *testing.T) {
	var identity ContextIdentity

	id, err := identity.CurrentUser(WithUser(context.Background(), "user-1"))
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if id != "user-1" {
		t.Errorf("id = %q, want %q", id, "user-1")
	}

	if _, err := identity.CurrentUser(context.Background()); !errors.Is(err, ErrNoUser) {
		t.Errorf("expected ErrNoUser, got %v", err)
	}
}
