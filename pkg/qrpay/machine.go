package qrpay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultRefreshDelay = 2 * time.Second

// MachineState is the confirmation lifecycle of one payment dialog.
type MachineState string

const (
	StateIdle            MachineState = "idle"
	StateCreating        MachineState = "creating"
	StateAwaitingPayment MachineState = "awaiting_payment"
	StateCompleted       MachineState = "completed"
	StateFailed          MachineState = "failed"
	StateCreationError   MachineState = "creation_error"
)

// Transition describes one observed state change. Order is set from
// AwaitingPayment onward; Err is set when To is StateCreationError.
type Transition struct {
	From  MachineState
	To    MachineState
	Order *PaymentOrder
	Err   error
}

// OrderAPI is the backend surface the machine composes: order creation plus
// the status reads performed by its poller.
type OrderAPI interface {
	Create(ctx context.Context, userID string, coins int64, amountVND int64) (PaymentOrder, error)
	StatusClient
}

// BalanceRefresher is the downstream collaborator notified once after a
// completed payment, so the user's session balance can be re-fetched.
type BalanceRefresher interface {
	RefreshBalance(ctx context.Context, userID string)
}

// MachineOption configures a ConfirmationStateMachine.
type MachineOption func(*ConfirmationStateMachine)

// WithTransitionObserver wires a callback invoked for every state change,
// in order.
func WithTransitionObserver(observer func(Transition)) MachineOption {
	return func(machine *ConfirmationStateMachine) {
		machine.observer = observer
	}
}

// WithPollErrorObserver wires a callback invoked for recoverable status-poll
// failures while awaiting payment. Polling continues after each one, so
// consumers can surface a transient "still checking" indicator without
// treating the run as failed. Observers must not call back into the machine.
func WithPollErrorObserver(observer func(error)) MachineOption {
	return func(machine *ConfirmationStateMachine) {
		machine.errorObserver = observer
	}
}

// WithBalanceRefresher wires the post-completion refresh collaborator.
func WithBalanceRefresher(refresher BalanceRefresher) MachineOption {
	return func(machine *ConfirmationStateMachine) {
		machine.refresher = refresher
	}
}

// WithRefreshDelay overrides the delay between observing a completed payment
// and signalling the balance refresh. The delay gives the backend time to
// finish crediting before the re-fetch.
func WithRefreshDelay(delay time.Duration) MachineOption {
	return func(machine *ConfirmationStateMachine) {
		if delay >= 0 {
			machine.refreshDelay = delay
		}
	}
}

// WithMachineLogger wires a logger for lifecycle observability.
func WithMachineLogger(logger *zap.Logger) MachineOption {
	return func(machine *ConfirmationStateMachine) {
		if logger != nil {
			machine.logger = logger
		}
	}
}

// ConfirmationStateMachine drives one payment dialog: create the order, poll
// its status until terminal, and signal a balance refresh on completion. At
// most one poll session is active per machine; Start cancels any prior
// session before beginning a new one, and a monotonically increasing
// generation gates out every callback from superseded sessions, including
// requests that were already in flight when the session was cancelled.
type ConfirmationStateMachine struct {
	api           OrderAPI
	poller        *StatusPoller
	refresher     BalanceRefresher
	observer      func(Transition)
	errorObserver func(error)
	refreshDelay  time.Duration
	logger        *zap.Logger

	mu         sync.Mutex
	state      MachineState
	generation uint64
	session    *PollSession
	order      *PaymentOrder
	lastErr    error
}

// NewConfirmationStateMachine wires a machine over the backend API.
func NewConfirmationStateMachine(api OrderAPI, options ...MachineOption) (*ConfirmationStateMachine, error) {
	if api == nil {
		return nil, fmt.Errorf("%w: order api is nil", ErrInvalidMachineConfig)
	}
	machine := &ConfirmationStateMachine{
		api:          api,
		refreshDelay: defaultRefreshDelay,
		logger:       zap.NewNop(),
		state:        StateIdle,
	}
	for _, option := range options {
		if option != nil {
			option(machine)
		}
	}
	poller, err := NewStatusPoller(api, WithPollerLogger(machine.logger))
	if err != nil {
		return nil, err
	}
	machine.poller = poller
	return machine, nil
}

// SetPollInterval adjusts the poller cadence. Intended for tests and
// non-default deployments; takes effect for subsequent Start calls.
func (machine *ConfirmationStateMachine) SetPollInterval(interval time.Duration) {
	WithPollInterval(interval)(machine.poller)
}

// State returns the current lifecycle state.
func (machine *ConfirmationStateMachine) State() MachineState {
	machine.mu.Lock()
	defer machine.mu.Unlock()
	return machine.state
}

// Order returns the active order, or nil before creation succeeded.
func (machine *ConfirmationStateMachine) Order() *PaymentOrder {
	machine.mu.Lock()
	defer machine.mu.Unlock()
	if machine.order == nil {
		return nil
	}
	order := *machine.order
	return &order
}

// Err returns the creation error after a transition to StateCreationError.
func (machine *ConfirmationStateMachine) Err() error {
	machine.mu.Lock()
	defer machine.mu.Unlock()
	return machine.lastErr
}

// Start begins a fresh confirmation run. Any prior session is cancelled
// first, so re-entrant Start calls are serialized by the cancel-then-start
// rule and never leave two pollers alive.
func (machine *ConfirmationStateMachine) Start(ctx context.Context, userID string, coins int64, amountVND int64) {
	machine.mu.Lock()
	previousSession := machine.detachSessionLocked()
	machine.generation++
	generation := machine.generation
	machine.order = nil
	machine.lastErr = nil
	machine.setStateLocked(StateCreating, nil, nil)
	machine.mu.Unlock()

	if previousSession != nil {
		previousSession.Cancel()
	}
	go machine.create(ctx, generation, userID, coins, amountVND)
}

// Cancel abandons the active confirmation run and returns to Idle. An
// abandoned payment is not an error; it is merely untracked thereafter.
func (machine *ConfirmationStateMachine) Cancel() {
	machine.mu.Lock()
	previousSession := machine.detachSessionLocked()
	machine.generation++
	machine.order = nil
	machine.lastErr = nil
	if machine.state != StateIdle {
		machine.setStateLocked(StateIdle, nil, nil)
	}
	machine.mu.Unlock()

	if previousSession != nil {
		previousSession.Cancel()
	}
}

func (machine *ConfirmationStateMachine) create(ctx context.Context, generation uint64, userID string, coins int64, amountVND int64) {
	order, err := machine.api.Create(ctx, userID, coins, amountVND)

	machine.mu.Lock()
	if generation != machine.generation {
		machine.mu.Unlock()
		return
	}
	if err != nil {
		machine.lastErr = err
		machine.setStateLocked(StateCreationError, nil, err)
		machine.mu.Unlock()
		machine.logger.Warn("order creation failed", zap.Error(err))
		return
	}
	machine.order = &order
	machine.setStateLocked(StateAwaitingPayment, &order, nil)

	callbacks := PollCallbacks{
		OnUpdate: func(snapshot StatusSnapshot) {
			machine.applyUpdate(generation, snapshot)
		},
		OnTerminal: func(snapshot StatusSnapshot) {
			machine.applyTerminal(ctx, generation, userID, snapshot)
		},
		OnError: func(pollErr error) {
			machine.applyPollError(generation, order.TransactionID, pollErr)
		},
	}
	machine.session = machine.poller.Run(ctx, order.TransactionID, callbacks)
	machine.mu.Unlock()
}

func (machine *ConfirmationStateMachine) applyPollError(generation uint64, transactionID string, pollErr error) {
	machine.mu.Lock()
	stale := generation != machine.generation
	observer := machine.errorObserver
	machine.mu.Unlock()
	if stale {
		return
	}
	machine.logger.Debug("status poll error",
		zap.String("transaction_id", transactionID),
		zap.Error(pollErr))
	if observer != nil {
		observer(pollErr)
	}
}

func (machine *ConfirmationStateMachine) applyUpdate(generation uint64, snapshot StatusSnapshot) {
	machine.mu.Lock()
	defer machine.mu.Unlock()
	if generation != machine.generation || machine.order == nil {
		return
	}
	if !snapshot.Status.Terminal() {
		machine.order.Status = snapshot.Status
	}
}

func (machine *ConfirmationStateMachine) applyTerminal(ctx context.Context, generation uint64, userID string, snapshot StatusSnapshot) {
	machine.mu.Lock()
	if generation != machine.generation || machine.order == nil {
		machine.mu.Unlock()
		return
	}
	machine.order.Status = snapshot.Status
	order := *machine.order
	completed := snapshot.Status == StatusCompleted
	if completed {
		machine.setStateLocked(StateCompleted, &order, nil)
	} else {
		machine.setStateLocked(StateFailed, &order, nil)
	}
	machine.mu.Unlock()

	if !completed || machine.refresher == nil || userID == "" {
		return
	}
	time.AfterFunc(machine.refreshDelay, func() {
		machine.mu.Lock()
		stale := generation != machine.generation
		machine.mu.Unlock()
		if stale {
			return
		}
		machine.refresher.RefreshBalance(ctx, userID)
	})
}

// detachSessionLocked removes the active poll session so the caller can
// cancel it after releasing machine.mu. Cancelling under the machine lock
// would invert the session/machine lock order taken by callback delivery.
func (machine *ConfirmationStateMachine) detachSessionLocked() *PollSession {
	session := machine.session
	machine.session = nil
	return session
}

// setStateLocked records the transition and notifies the observer. Callers
// hold machine.mu; observers must not call back into the machine.
func (machine *ConfirmationStateMachine) setStateLocked(next MachineState, order *PaymentOrder, err error) {
	previous := machine.state
	machine.state = next
	if machine.observer != nil {
		machine.observer(Transition{From: previous, To: next, Order: order, Err: err})
	}
}
