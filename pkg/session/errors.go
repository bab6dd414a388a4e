package session

import "errors"

// Error values surfaced by the session package.
var (
	ErrSyncFailed            = errors.New("account sync failed")
	ErrInvalidToken          = errors.New("invalid session token")
	ErrTokenExpired          = errors.New("session token expired")
	ErrInvalidPipelineConfig = errors.New("invalid pipeline config")
	ErrInvalidCodecConfig    = errors.New("invalid codec config")
)
