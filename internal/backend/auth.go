package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
)

// GoogleTokenVerifier checks a Google ID token and returns the verified
// email claim.
type GoogleTokenVerifier interface {
	VerifyIDToken(ctx context.Context, rawToken string) (string, error)
}

// IDTokenVerifier validates Google ID tokens against a client id.
type IDTokenVerifier struct {
	clientID string
}

// NewIDTokenVerifier wires an IDTokenVerifier for the given OAuth client id.
func NewIDTokenVerifier(clientID string) (*IDTokenVerifier, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: google client id is required", ErrInvalidServiceConfig)
	}
	return &IDTokenVerifier{clientID: clientID}, nil
}

// VerifyIDToken validates the token signature and audience and returns the
// email claim.
func (verifier *IDTokenVerifier) VerifyIDToken(ctx context.Context, rawToken string) (string, error) {
	payload, err := idtoken.Validate(ctx, rawToken, verifier.clientID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidGoogleToken, err)
	}
	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return "", fmt.Errorf("%w: token carries no email claim", ErrInvalidGoogleToken)
	}
	return email, nil
}

// GoogleAuthRequest is the sign-in sync payload from the session facade.
type GoogleAuthRequest struct {
	Token     string
	Email     string
	Name      string
	AvatarURL string
}

// GoogleAuthResult is the backend-issued account data returned to the
// enrichment pipeline.
type GoogleAuthResult struct {
	UserID  string
	Credits int64
	IsAdmin bool
}

// AuthService upserts users from verified Google identities. When no
// verifier is configured (development mode), tokens are accepted as-is, the
// way the original deployment behaves without a client id.
type AuthService struct {
	store    Store
	verifier GoogleTokenVerifier
	logger   *zap.Logger
}

// NewAuthService wires an AuthService. verifier may be nil to skip token
// verification.
func NewAuthService(store Store, verifier GoogleTokenVerifier, logger *zap.Logger) (*AuthService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{store: store, verifier: verifier, logger: logger}, nil
}

// GoogleAuth verifies the identity (when configured), upserts the user by
// email, and returns the account attributes the session pipeline merges.
func (service *AuthService) GoogleAuth(ctx context.Context, request GoogleAuthRequest) (GoogleAuthResult, error) {
	email := strings.TrimSpace(request.Email)
	if email == "" {
		return GoogleAuthResult{}, fmt.Errorf("%w: email is required", ErrInvalidGoogleToken)
	}

	if service.verifier != nil {
		verifiedEmail, err := service.verifier.VerifyIDToken(ctx, request.Token)
		if err != nil {
			return GoogleAuthResult{}, err
		}
		if !strings.EqualFold(verifiedEmail, email) {
			return GoogleAuthResult{}, ErrEmailMismatch
		}
	}

	user, err := service.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		user.Name = request.Name
		if request.AvatarURL != "" {
			user.Picture = request.AvatarURL
		}
		if err := service.store.UpdateUser(ctx, user); err != nil {
			return GoogleAuthResult{}, err
		}
	case errors.Is(err, ErrUserNotFound):
		user = User{
			ID:      uuid.NewString(),
			Email:   email,
			Name:    request.Name,
			Picture: request.AvatarURL,
		}
		if err := service.store.CreateUser(ctx, user); err != nil {
			return GoogleAuthResult{}, err
		}
		service.logger.Info("user created", zap.String("user_id", user.ID))
	default:
		return GoogleAuthResult{}, err
	}

	return GoogleAuthResult{
		UserID:  user.ID,
		Credits: user.Credits,
		IsAdmin: user.IsAdmin,
	}, nil
}

// Balance returns the current credit balance for a user.
func (service *AuthService) Balance(ctx context.Context, userID string) (int64, error) {
	user, err := service.store.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}
