package backend

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestGoogleAuthCreatesUser(t *testing.T) {
	t.Parallel()
	store := newMemoryStore()
	service := mustAuthService(t, store, nil)

	result, err := service.GoogleAuth(context.Background(), GoogleAuthRequest{
		Token:     "provider-token",
		Email:     "user@example.com",
		Name:      "Test User",
		AvatarURL: "https://example.com/avatar.png",
	})
	if err != nil {
		t.Fatalf("google auth: %v", err)
	}

	if result.UserID == "" {
		t.Fatalf("expected a user id")
	}
	if result.Credits != 0 || result.IsAdmin {
		t.Fatalf("expected fresh account defaults, got %+v", result)
	}
	created := store.mustUser(t, result.UserID)
	if created.Email != "user@example.com" || created.Name != "Test User" {
		t.Fatalf("unexpected created user: %+v", created)
	}
}

func TestGoogleAuthUpdatesExistingUser(t *testing.T) {
	t.Parallel()
	store := newMemoryStore()
	store.addUser(t, User{
		ID:      "user-1",
		Email:   "user@example.com",
		Name:    "Old Name",
		Picture: "https://example.com/old.png",
		Credits: 40,
		IsAdmin: true,
	})
	service := mustAuthService(t, store, nil)

	result, err := service.GoogleAuth(context.Background(), GoogleAuthRequest{
		Token: "provider-token",
		Email: "user@example.com",
		Name:  "New Name",
	})
	if err != nil {
		t.Fatalf("google auth: %v", err)
	}

	if result.UserID != "user-1" || result.Credits != 40 || !result.IsAdmin {
		t.Fatalf("expected existing account attributes, got %+v", result)
	}
	updated := store.mustUser(t, "user-1")
	if updated.Name != "New Name" {
		t.Fatalf("expected name refreshed, got %q", updated.Name)
	}
	if updated.Picture != "https://example.com/old.png" {
		t.Fatalf("expected picture kept when no avatar sent, got %q", updated.Picture)
	}
}

func TestGoogleAuthRequiresEmail(t *testing.T) {
	t.Parallel()
	service := mustAuthService(t, newMemoryStore(), nil)

	_, err := service.GoogleAuth(context.Background(), GoogleAuthRequest{Token: "provider-token"})
	if !errors.Is(err, ErrInvalidGoogleToken) {
		t.Fatalf("expected ErrInvalidGoogleToken, got %v", err)
	}
}

func TestGoogleAuthVerifierMismatch(t *testing.T) {
	t.Parallel()
	verifier := &stubVerifier{email: "someone-else@example.com"}
	service := mustAuthService(t, newMemoryStore(), verifier)

	_, err := service.GoogleAuth(context.Background(), GoogleAuthRequest{
		Token: "provider-token",
		Email: "user@example.com",
	})
	if !errors.Is(err, ErrEmailMismatch) {
		t.Fatalf("expected ErrEmailMismatch, got %v", err)
	}
}

func TestGoogleAuthVerifierFailure(t *testing.T) {
	t.Parallel()
	verifier := &stubVerifier{err: ErrInvalidGoogleToken}
	service := mustAuthService(t, newMemoryStore(), verifier)

	_, err := service.GoogleAuth(context.Background(), GoogleAuthRequest{
		Token: "forged",
		Email: "user@example.com",
	})
	if !errors.Is(err, ErrInvalidGoogleToken) {
		t.Fatalf("expected ErrInvalidGoogleToken, got %v", err)
	}
}

func TestGoogleAuthVerifierEmailCaseInsensitive(t *testing.T) {
	t.Parallel()
	verifier := &stubVerifier{email: "User@Example.com"}
	service := mustAuthService(t, newMemoryStore(), verifier)

	_, err := service.GoogleAuth(context.Background(), GoogleAuthRequest{
		Token: "provider-token",
		Email: "user@example.com",
	})
	if err != nil {
		t.Fatalf("expected case-insensitive email match, got %v", err)
	}
}

func TestBalanceForUnknownUser(t *testing.T) {
	t.Parallel()
	service := mustAuthService(t, newMemoryStore(), nil)

	_, err := service.Balance(context.Background(), "no-such-user")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestNewIDTokenVerifierRequiresClientID(t *testing.T) {
	t.Parallel()
	_, err := NewIDTokenVerifier("  ")
	if !errors.Is(err, ErrInvalidServiceConfig) {
		t.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
}

// --- helpers ---

type stubVerifier struct {
	email string
	err   error
}

func (verifier *stubVerifier) VerifyIDToken(ctx context.Context, rawToken string) (string, error) {
	if verifier.err != nil {
		return "", verifier.err
	}
	return verifier.email, nil
}

func mustAuthService(t *testing.T, store Store, verifier GoogleTokenVerifier) *AuthService {
	t.Helper()
	service, err := NewAuthService(store, verifier, zap.NewNop())
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	return service
}
