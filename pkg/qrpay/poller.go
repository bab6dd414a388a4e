package qrpay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultPollInterval = 3 * time.Second

// StatusClient is the read side of the backend used by the poller.
type StatusClient interface {
	Status(ctx context.Context, transactionID string) (StatusSnapshot, error)
}

// PollCallbacks receives confirmation progress. OnUpdate fires on every
// successful poll, even when the status is unchanged, so consumers can rely
// on its cadence for "still checking" feedback. OnTerminal fires exactly
// once. OnError reports recoverable poll failures; polling continues after
// each one.
type PollCallbacks struct {
	OnUpdate   func(snapshot StatusSnapshot)
	OnTerminal func(snapshot StatusSnapshot)
	OnError    func(err error)
}

// PollerOption configures a StatusPoller.
type PollerOption func(*StatusPoller)

// WithPollInterval overrides the interval between status polls.
func WithPollInterval(interval time.Duration) PollerOption {
	return func(poller *StatusPoller) {
		if interval > 0 {
			poller.interval = interval
		}
	}
}

// WithPollerLogger wires a logger for poll-level observability.
func WithPollerLogger(logger *zap.Logger) PollerOption {
	return func(poller *StatusPoller) {
		if logger != nil {
			poller.logger = logger
		}
	}
}

// StatusPoller repeatedly queries order status until a terminal state or
// cancellation. It owns the timing policy; callers own retry and lifetime
// decisions through the returned PollSession.
type StatusPoller struct {
	client   StatusClient
	interval time.Duration
	logger   *zap.Logger
}

// NewStatusPoller wires a StatusPoller over a status client.
func NewStatusPoller(client StatusClient, options ...PollerOption) (*StatusPoller, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: status client is nil", ErrInvalidClientConfig)
	}
	poller := &StatusPoller{
		client:   client,
		interval: defaultPollInterval,
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(poller)
		}
	}
	return poller, nil
}

// Poll performs one status check. Polling an already-terminal transaction
// returns that terminal status again without side effects.
func (poller *StatusPoller) Poll(ctx context.Context, transactionID string) (StatusSnapshot, error) {
	return poller.client.Status(ctx, transactionID)
}

// PollSession is one run of the confirmation protocol for a single order.
// After Cancel returns, no further callback is dispatched: results of
// requests that were already in flight are discarded rather than delivered.
// A callback that is already executing when Cancel is called from another
// goroutine may still finish. Callbacks run outside the session lock, so a
// callback may call Cancel on its own session to stop polling.
type PollSession struct {
	transactionID string
	cancelFn      context.CancelFunc

	mu        sync.Mutex
	cancelled bool

	done chan struct{}
}

// Cancel stops polling. It is safe to call more than once.
func (session *PollSession) Cancel() {
	session.mu.Lock()
	session.cancelled = true
	session.mu.Unlock()
	session.cancelFn()
}

// Cancelled reports whether the session was cancelled.
func (session *PollSession) Cancelled() bool {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.cancelled
}

// Done is closed once the polling goroutine has exited.
func (session *PollSession) Done() <-chan struct{} {
	return session.done
}

// TransactionID returns the transaction this session is confirming.
func (session *PollSession) TransactionID() string {
	return session.transactionID
}

// deliver invokes fn unless the session has been cancelled. fn runs outside
// the session lock so it may call Cancel itself.
func (session *PollSession) deliver(fn func()) bool {
	if session.Cancelled() {
		return false
	}
	fn()
	return true
}

// Run starts confirmation polling: one immediate poll, then a poll on every
// interval tick until a terminal status is observed or the session is
// cancelled. Callbacks are delivered from a single goroutine in the order
// the polls completed. Callers must cancel a prior Run for the same
// transaction before starting another; concurrent runs are not supported.
func (poller *StatusPoller) Run(ctx context.Context, transactionID string, callbacks PollCallbacks) *PollSession {
	sessionCtx, cancelFn := context.WithCancel(ctx)
	session := &PollSession{
		transactionID: transactionID,
		cancelFn:      cancelFn,
		done:          make(chan struct{}),
	}

	go func() {
		defer close(session.done)
		defer cancelFn()

		if terminal := poller.step(sessionCtx, session, callbacks, true); terminal {
			return
		}

		ticker := time.NewTicker(poller.interval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				return
			case <-ticker.C:
			}
			if terminal := poller.step(sessionCtx, session, callbacks, false); terminal {
				return
			}
			if sessionCtx.Err() != nil {
				return
			}
		}
	}()

	return session
}

// step performs one poll and delivers its outcome. It returns true when a
// terminal status was delivered and polling must stop.
func (poller *StatusPoller) step(ctx context.Context, session *PollSession, callbacks PollCallbacks, first bool) bool {
	snapshot, err := poller.client.Status(ctx, session.transactionID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		// A rejection on the very first poll likely means the transaction id
		// itself is bad, so it is surfaced. Transport and decode hiccups on
		// the first poll are tolerated silently to avoid flashing an error
		// before the first real check; later ones are reported and polling
		// continues, since the payer's money may already be in transit.
		if first && !errors.Is(err, ErrBackendRejected) {
			poller.logger.Debug("initial status poll failed",
				zap.String("transaction_id", session.transactionID),
				zap.Error(err))
			return false
		}
		if callbacks.OnError != nil {
			session.deliver(func() { callbacks.OnError(err) })
		}
		return false
	}

	if !session.deliver(func() {
		if callbacks.OnUpdate != nil {
			callbacks.OnUpdate(snapshot)
		}
	}) {
		return false
	}
	if !snapshot.Status.Terminal() {
		return false
	}
	// Re-checked so an OnUpdate that cancelled its own session suppresses
	// the terminal callback.
	return session.deliver(func() {
		if callbacks.OnTerminal != nil {
			callbacks.OnTerminal(snapshot)
		}
	})
}
