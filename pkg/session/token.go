package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Codec signs and parses the externally persisted session artifact.
type Codec struct {
	signingKey []byte
	issuer     string
}

// NewCodec wires a Codec with an HMAC signing key and expected issuer.
func NewCodec(signingKey []byte, issuer string) (*Codec, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("%w: signing key is required", ErrInvalidCodecConfig)
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrInvalidCodecConfig)
	}
	return &Codec{signingKey: signingKey, issuer: issuer}, nil
}

// sessionClaims is the JWT payload. The backend-sourced fields are emitted
// only when the token was synced, so their absence round-trips: a decoded
// unsynced token stays unsynced instead of gaining zero values.
type sessionClaims struct {
	Email          string  `json:"email"`
	DisplayName    string  `json:"name"`
	AvatarURL      string  `json:"avatar_url,omitempty"`
	InternalUserID *string `json:"user_id,omitempty"`
	CreditBalance  *int64  `json:"credits,omitempty"`
	IsPrivileged   *bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// Sign serializes the token into a signed compact JWT.
func (codec *Codec) Sign(token Token) (string, error) {
	claims := sessionClaims{
		Email:       token.Identity.Email,
		DisplayName: token.Identity.DisplayName,
		AvatarURL:   token.Identity.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    codec.issuer,
			Subject:   token.Identity.ProviderID,
			IssuedAt:  jwt.NewNumericDate(token.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
		},
	}
	if token.Account != nil {
		internalUserID := token.Account.InternalUserID
		creditBalance := token.Account.CreditBalance
		isPrivileged := token.Account.IsPrivileged
		claims.InternalUserID = &internalUserID
		claims.CreditBalance = &creditBalance
		claims.IsPrivileged = &isPrivileged
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(codec.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature, issuer, and expiry, and reconstructs the
// token including the synced/unsynced distinction.
func (codec *Codec) Decode(raw string) (Token, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(parsedToken *jwt.Token) (any, error) {
		if _, ok := parsedToken.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", parsedToken.Header["alg"])
		}
		return codec.signingKey, nil
	}, jwt.WithIssuer(codec.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Token{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Token{}, ErrInvalidToken
	}

	token := Token{
		Identity: Identity{
			ProviderID:  claims.Subject,
			Email:       claims.Email,
			DisplayName: claims.DisplayName,
			AvatarURL:   claims.AvatarURL,
		},
		IssuedAt:  timeFromNumericDate(claims.IssuedAt),
		ExpiresAt: timeFromNumericDate(claims.ExpiresAt),
	}
	if claims.InternalUserID != nil {
		token.Account = &AccountRecord{
			InternalUserID: *claims.InternalUserID,
			CreditBalance:  valueOrZero(claims.CreditBalance),
			IsPrivileged:   claims.IsPrivileged != nil && *claims.IsPrivileged,
		}
	}
	return token, nil
}

func timeFromNumericDate(date *jwt.NumericDate) time.Time {
	if date == nil {
		return time.Time{}
	}
	return date.Time.UTC()
}

func valueOrZero(value *int64) int64 {
	if value == nil {
		return 0
	}
	return *value
}
