package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Lifetime is the fixed session validity. Sessions are refreshed only at the
// next sign-in; there is no sliding renewal.
const Lifetime = 7 * 24 * time.Hour

// AccountSyncer exchanges an OAuth provider token for backend account data.
type AccountSyncer interface {
	SyncGoogleIdentity(ctx context.Context, identity Identity, providerToken string) (AccountRecord, error)
}

// Token is the internal session value threaded through the pipeline stages.
// Account is nil when the backend sync failed; the absence is preserved all
// the way into the materialized view rather than defaulted away.
type Token struct {
	Identity  Identity
	Account   *AccountRecord
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Synced reports whether backend account data is attached.
func (token Token) Synced() bool {
	return token.Account != nil
}

// View is the externally visible session shape. The three backend-sourced
// fields are pointers: nil means "not yet synced with backend", which is
// distinct from anonymous and must not be rendered as zero or false.
type View struct {
	ProviderID     string
	Email          string
	DisplayName    string
	AvatarURL      string
	InternalUserID *string
	CreditBalance  *int64
	IsPrivileged   *bool
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Synced reports whether the backend enrichment fields are present.
func (view View) Synced() bool {
	return view.InternalUserID != nil
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithClock overrides the issue-time source.
func WithClock(now func() time.Time) PipelineOption {
	return func(pipeline *Pipeline) {
		if now != nil {
			pipeline.nowFn = now
		}
	}
}

// WithPipelineLogger wires a logger for sync observability.
func WithPipelineLogger(logger *zap.Logger) PipelineOption {
	return func(pipeline *Pipeline) {
		if logger != nil {
			pipeline.logger = logger
		}
	}
}

// Pipeline is the ordered identity-enrichment chain: sign-in sync, token
// enrichment, session materialization. Each stage is pure with respect to
// its declared inputs; the evolving token is passed explicitly rather than
// mutated through any ambient session state.
type Pipeline struct {
	syncer AccountSyncer
	nowFn  func() time.Time
	logger *zap.Logger
}

// NewPipeline wires a Pipeline over an account syncer.
func NewPipeline(syncer AccountSyncer, options ...PipelineOption) (*Pipeline, error) {
	if syncer == nil {
		return nil, fmt.Errorf("%w: account syncer is nil", ErrInvalidPipelineConfig)
	}
	pipeline := &Pipeline{
		syncer: syncer,
		nowFn:  func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(pipeline)
		}
	}
	return pipeline, nil
}

// SignInSync exchanges the provider token for backend account data. Sync
// failures never block sign-in: any transport, rejection, or decode failure
// is logged and collapsed into a nil record with ErrSyncFailed, and the
// caller proceeds with enrichment fields absent.
func (pipeline *Pipeline) SignInSync(ctx context.Context, identity Identity, providerToken string) (*AccountRecord, error) {
	record, err := pipeline.syncer.SyncGoogleIdentity(ctx, identity, providerToken)
	if err != nil {
		pipeline.logger.Warn("backend account sync failed",
			zap.String("email", identity.Email),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return &record, nil
}

// EnrichToken merges the OAuth identity with the sign-in sync outcome. It is
// called once per sign-in, not on every request. A nil record leaves the
// backend-sourced fields unset.
func (pipeline *Pipeline) EnrichToken(prior *Token, identity Identity, record *AccountRecord) Token {
	issuedAt := pipeline.nowFn()
	if prior != nil && !prior.IssuedAt.IsZero() {
		issuedAt = prior.IssuedAt
	}
	token := Token{
		Identity:  identity,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(Lifetime),
	}
	if record != nil {
		attached := *record
		token.Account = &attached
	}
	return token
}

// MaterializeSession projects the internal token into the public view,
// carrying the backend fields over only when present upstream.
func (pipeline *Pipeline) MaterializeSession(token Token) View {
	view := View{
		ProviderID:  token.Identity.ProviderID,
		Email:       token.Identity.Email,
		DisplayName: token.Identity.DisplayName,
		AvatarURL:   token.Identity.AvatarURL,
		IssuedAt:    token.IssuedAt,
		ExpiresAt:   token.ExpiresAt,
	}
	if token.Account != nil {
		internalUserID := token.Account.InternalUserID
		creditBalance := token.Account.CreditBalance
		isPrivileged := token.Account.IsPrivileged
		view.InternalUserID = &internalUserID
		view.CreditBalance = &creditBalance
		view.IsPrivileged = &isPrivileged
	}
	return view
}

// Establish runs the full sign-in chain. The sign-in decision is always
// "allow": a failed sync only leaves the enrichment fields absent.
func (pipeline *Pipeline) Establish(ctx context.Context, identity Identity, providerToken string) Token {
	record, err := pipeline.SignInSync(ctx, identity, providerToken)
	if err != nil {
		record = nil
	}
	return pipeline.EnrichToken(nil, identity, record)
}
