package qrpay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const pollTestInterval = 5 * time.Millisecond

func TestRunDeliversTerminalExactlyOnce(t *testing.T) {
	t.Parallel()
	client := newScriptedStatusClient(
		pollResult{snapshot: StatusSnapshot{Status: StatusPending}},
		pollResult{snapshot: StatusSnapshot{Status: StatusPending}},
		pollResult{snapshot: StatusSnapshot{Status: StatusCompleted}},
	)
	poller := mustStatusPoller(t, client)
	recorder := newCallbackRecorder()

	session := poller.Run(context.Background(), "TXN-1-000001", recorder.callbacks())
	waitForSession(t, session)

	updates, terminals, pollErrors := recorder.counts()
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal callback, got %d", terminals)
	}
	if updates != 3 {
		t.Fatalf("expected an update per successful poll, got %d", updates)
	}
	if pollErrors != 0 {
		t.Fatalf("expected no poll errors, got %d", pollErrors)
	}
	if got := client.calls(); got != 3 {
		t.Fatalf("expected polling to stop at the terminal poll, got %d calls", got)
	}
	if last := recorder.lastTerminal(); last.Status != StatusCompleted {
		t.Fatalf("expected completed terminal, got %s", last.Status)
	}
}

func TestRunKeepsPollingThroughUnknownStatus(t *testing.T) {
	t.Parallel()
	client := newScriptedStatusClient(
		pollResult{snapshot: StatusSnapshot{Status: StatusUnknown, RawStatus: "processing"}},
		pollResult{snapshot: StatusSnapshot{Status: StatusUnknown, RawStatus: "processing"}},
		pollResult{snapshot: StatusSnapshot{Status: StatusFailed}},
	)
	poller := mustStatusPoller(t, client)
	recorder := newCallbackRecorder()

	session := poller.Run(context.Background(), "TXN-1-000001", recorder.callbacks())
	waitForSession(t, session)

	if _, terminals, _ := recorder.counts(); terminals != 1 {
		t.Fatalf("expected one terminal callback, got %d", terminals)
	}
	if last := recorder.lastTerminal(); last.Status != StatusFailed {
		t.Fatalf("expected failed terminal, got %s", last.Status)
	}
}

func TestRunSwallowsFirstPollTransportError(t *testing.T) {
	t.Parallel()
	client := newScriptedStatusClient(
		pollResult{err: fmt.Errorf("%w: connection refused", ErrTransport)},
		pollResult{snapshot: StatusSnapshot{Status: StatusCompleted}},
	)
	poller := mustStatusPoller(t, client)
	recorder := newCallbackRecorder()

	session := poller.Run(context.Background(), "TXN-1-000001", recorder.callbacks())
	waitForSession(t, session)

	if _, _, pollErrors := recorder.counts(); pollErrors != 0 {
		t.Fatalf("expected first transport error to be swallowed, got %d OnError calls", pollErrors)
	}
}

func TestRunReportsFirstPollBackendRejection(t *testing.T) {
	t.Parallel()
	rejection := &BackendError{StatusCode: 404, Message: "Payment not found"}
	client := newScriptedStatusClient(
		pollResult{err: rejection},
		pollResult{snapshot: StatusSnapshot{Status: StatusCompleted}},
	)
	poller := mustStatusPoller(t, client)
	recorder := newCallbackRecorder()

	session := poller.Run(context.Background(), "TXN-1-000001", recorder.callbacks())
	waitForSession(t, session)

	pollErrors := recorder.errorsSeen()
	if len(pollErrors) != 1 {
		t.Fatalf("expected the rejection to be reported, got %d errors", len(pollErrors))
	}
	if !errors.Is(pollErrors[0], ErrBackendRejected) {
		t.Fatalf("expected ErrBackendRejected, got %v", pollErrors[0])
	}
}

func TestRunContinuesAfterIntervalError(t *testing.T) {
	t.Parallel()
	client := newScriptedStatusClient(
		pollResult{snapshot: StatusSnapshot{Status: StatusPending}},
		pollResult{err: fmt.Errorf("%w: timeout", ErrTransport)},
		pollResult{snapshot: StatusSnapshot{Status: StatusCompleted}},
	)
	poller := mustStatusPoller(t, client)
	recorder := newCallbackRecorder()

	session := poller.Run(context.Background(), "TXN-1-000001", recorder.callbacks())
	waitForSession(t, session)

	if _, terminals, pollErrors := recorder.counts(); terminals != 1 || pollErrors != 1 {
		t.Fatalf("expected one error then a terminal, got terminals=%d errors=%d", terminals, pollErrors)
	}
}

func TestCancelDiscardsInFlightResult(t *testing.T) {
	t.Parallel()
	client := newScriptedStatusClient(
		pollResult{snapshot: StatusSnapshot{Status: StatusCompleted}},
	)
	release := make(chan struct{})
	client.blockFirst = release
	poller := mustStatusPoller(t, client)
	recorder := newCallbackRecorder()

	session := poller.Run(context.Background(), "TXN-1-000001", recorder.callbacks())

	select {
	case <-client.firstCall:
	case <-time.After(time.Second):
		t.Fatalf("poller never issued the first request")
	}
	session.Cancel()
	close(release)
	waitForSession(t, session)

	updates, terminals, pollErrors := recorder.counts()
	if updates != 0 || terminals != 0 || pollErrors != 0 {
		t.Fatalf("expected no callbacks after cancel, got updates=%d terminals=%d errors=%d", updates, terminals, pollErrors)
	}
	if !session.Cancelled() {
		t.Fatalf("expected session to report cancelled")
	}
}

func TestCallbackMayCancelItsOwnSession(t *testing.T) {
	t.Parallel()
	client := newScriptedStatusClient(
		pollResult{snapshot: StatusSnapshot{Status: StatusPending}},
	)
	poller := mustStatusPoller(t, client)
	recorder := newCallbackRecorder()

	callbacks := recorder.callbacks()
	record := callbacks.OnUpdate
	sessionReady := make(chan *PollSession, 1)
	var cancelOnce sync.Once
	callbacks.OnUpdate = func(snapshot StatusSnapshot) {
		record(snapshot)
		cancelOnce.Do(func() { (<-sessionReady).Cancel() })
	}

	session := poller.Run(context.Background(), "TXN-1-000001", callbacks)
	sessionReady <- session
	waitForSession(t, session)

	if !session.Cancelled() {
		t.Fatalf("expected session to report cancelled")
	}
	if updates, _, _ := recorder.counts(); updates != 1 {
		t.Fatalf("expected polling to stop after the cancelling update, got %d updates", updates)
	}
}

func TestCancelFromUpdateSuppressesTerminalCallback(t *testing.T) {
	t.Parallel()
	client := newScriptedStatusClient(
		pollResult{snapshot: StatusSnapshot{Status: StatusCompleted}},
	)
	poller := mustStatusPoller(t, client)
	recorder := newCallbackRecorder()

	callbacks := recorder.callbacks()
	record := callbacks.OnUpdate
	sessionReady := make(chan *PollSession, 1)
	var cancelOnce sync.Once
	callbacks.OnUpdate = func(snapshot StatusSnapshot) {
		record(snapshot)
		cancelOnce.Do(func() { (<-sessionReady).Cancel() })
	}

	session := poller.Run(context.Background(), "TXN-1-000001", callbacks)
	sessionReady <- session
	waitForSession(t, session)

	if _, terminals, _ := recorder.counts(); terminals != 0 {
		t.Fatalf("expected no terminal callback after cancelling in OnUpdate, got %d", terminals)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	client := newScriptedStatusClient(
		pollResult{snapshot: StatusSnapshot{Status: StatusPending}},
	)
	poller := mustStatusPoller(t, client)
	session := poller.Run(context.Background(), "TXN-1-000001", PollCallbacks{})
	session.Cancel()
	session.Cancel()
	waitForSession(t, session)
}

func TestPollReturnsTerminalWithoutSideEffects(t *testing.T) {
	t.Parallel()
	client := newScriptedStatusClient(
		pollResult{snapshot: StatusSnapshot{Status: StatusCompleted}},
		pollResult{snapshot: StatusSnapshot{Status: StatusCompleted}},
	)
	poller := mustStatusPoller(t, client)

	for attempt := 0; attempt < 2; attempt++ {
		snapshot, err := poller.Poll(context.Background(), "TXN-1-000001")
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if snapshot.Status != StatusCompleted {
			t.Fatalf("expected completed, got %s", snapshot.Status)
		}
	}
}

func TestNewStatusPollerRequiresClient(t *testing.T) {
	t.Parallel()
	_, err := NewStatusPoller(nil)
	if !errors.Is(err, ErrInvalidClientConfig) {
		t.Fatalf("expected ErrInvalidClientConfig, got %v", err)
	}
}

// --- helpers ---

type pollResult struct {
	snapshot StatusSnapshot
	err      error
}

// scriptedStatusClient replays a fixed sequence of poll results; the last
// result repeats once the script is exhausted.
type scriptedStatusClient struct {
	mu         sync.Mutex
	script     []pollResult
	callCount  int
	blockFirst chan struct{}
	firstCall  chan struct{}
	firstOnce  sync.Once
}

func newScriptedStatusClient(script ...pollResult) *scriptedStatusClient {
	return &scriptedStatusClient{script: script, firstCall: make(chan struct{})}
}

func (client *scriptedStatusClient) Status(ctx context.Context, transactionID string) (StatusSnapshot, error) {
	client.mu.Lock()
	index := client.callCount
	client.callCount++
	block := client.blockFirst
	client.mu.Unlock()

	client.firstOnce.Do(func() { close(client.firstCall) })
	if index == 0 && block != nil {
		<-block
	}
	if index >= len(client.script) {
		index = len(client.script) - 1
	}
	result := client.script[index]
	if result.err != nil {
		return StatusSnapshot{}, result.err
	}
	snapshot := result.snapshot
	snapshot.TransactionID = transactionID
	return snapshot, nil
}

func (client *scriptedStatusClient) calls() int {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.callCount
}

type callbackRecorder struct {
	mu        sync.Mutex
	updates   []StatusSnapshot
	terminals []StatusSnapshot
	errors    []error
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{}
}

func (recorder *callbackRecorder) callbacks() PollCallbacks {
	return PollCallbacks{
		OnUpdate: func(snapshot StatusSnapshot) {
			recorder.mu.Lock()
			defer recorder.mu.Unlock()
			recorder.updates = append(recorder.updates, snapshot)
		},
		OnTerminal: func(snapshot StatusSnapshot) {
			recorder.mu.Lock()
			defer recorder.mu.Unlock()
			recorder.terminals = append(recorder.terminals, snapshot)
		},
		OnError: func(err error) {
			recorder.mu.Lock()
			defer recorder.mu.Unlock()
			recorder.errors = append(recorder.errors, err)
		},
	}
}

func (recorder *callbackRecorder) counts() (int, int, int) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	return len(recorder.updates), len(recorder.terminals), len(recorder.errors)
}

func (recorder *callbackRecorder) lastTerminal() StatusSnapshot {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.terminals) == 0 {
		return StatusSnapshot{}
	}
	return recorder.terminals[len(recorder.terminals)-1]
}

func (recorder *callbackRecorder) errorsSeen() []error {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	return append([]error(nil), recorder.errors...)
}

func mustStatusPoller(t *testing.T, client StatusClient) *StatusPoller {
	t.Helper()
	poller, err := NewStatusPoller(client, WithPollInterval(pollTestInterval))
	if err != nil {
		t.Fatalf("status poller: %v", err)
	}
	return poller
}

func waitForSession(t *testing.T, session *PollSession) {
	t.Helper()
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("poll session did not finish")
	}
}
