package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/shelfsort/internal/domain/model"
)

const eventually = 500 * time.Millisecond

// waiterFunc adapts a function to Waiter and counts calls per process.
type waiterFunc struct {
	calls atomic.Int32
	fn    func(ctx context.Context, queue model.QueueName) error
}

func (w *waiterFunc) WaitForNotification(ctx context.Context, queue model.QueueName) error {
	w.calls.Add(1)
	return w.fn(ctx, queue)
}

// announceEvery returns immediately after period, as if a job was inserted.
func announceEvery(period time.Duration) *waiterFunc {
	return &waiterFunc{fn: func(ctx context.Context, _ model.QueueName) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(period):
			return nil
		}
	}}
}

// silent blocks until its wait window ends.
func silent() *waiterFunc {
	return &waiterFunc{fn: func(ctx context.Context, _ model.QueueName) error {
		<-ctx.Done()
		return ctx.Err()
	}}
}

func recv(t *testing.T, ch <-chan struct{}) (open bool) {
	t.Helper()
	select {
	case _, open = <-ch:
		return open
	case <-time.After(eventually):
		t.Fatal("nothing received")
		return false
	}
}

func newTestNotifier(t *testing.T, opts NotifierOptions) *DefaultNotifier {
	t.Helper()
	n, err := NewNotifier(opts)
	require.NoError(t, err)
	t.Cleanup(n.StopAll)
	return n
}

func TestNewNotifier(t *testing.T) {
	n, err := NewNotifier(NotifierOptions{})
	require.ErrorIs(t, err, ErrWaiterRequired)
	assert.Nil(t, n)

	n, err = NewNotifier(NotifierOptions{Waiter: silent()})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, n.waitWindow)
	assert.Equal(t, 250*time.Millisecond, n.backoff)
}

func TestNotifier_AnnouncementWakesEverySubscriber(t *testing.T) {
	waiter := announceEvery(10 * time.Millisecond)
	n := newTestNotifier(t, NotifierOptions{Waiter: waiter})

	releaseA, a := n.Subscribe(model.QueueBulkOperation)
	defer releaseA()
	releaseB, b := n.Subscribe(model.QueueBulkOperation)
	defer releaseB()

	assert.True(t, recv(t, a))
	assert.True(t, recv(t, b))

	n.mu.Lock()
	assert.Len(t, n.topics, 1, "subscribers of one queue share a listener")
	n.mu.Unlock()
}

func TestNotifier_WaitWindowExpiryStillWakes(t *testing.T) {
	n := newTestNotifier(t, NotifierOptions{Waiter: silent(), WaitWindow: 20 * time.Millisecond})

	release, ch := n.Subscribe(model.QueueHideProduct)
	defer release()

	assert.True(t, recv(t, ch), "delayed jobs are re-polled after every window")
}

func TestNotifier_WaiterErrorsBackOff(t *testing.T) {
	waiter := &waiterFunc{fn: func(context.Context, model.QueueName) error { return errors.New("listen: conn closed") }}
	n := newTestNotifier(t, NotifierOptions{Waiter: waiter, Backoff: 50 * time.Millisecond})

	release, ch := n.Subscribe(model.QueueAutoSorting)
	defer release()
	assert.True(t, recv(t, ch))

	time.Sleep(120 * time.Millisecond)
	assert.LessOrEqual(t, waiter.calls.Load(), int32(4))
}

func TestNotifier_ReleaseClosesOnlyThatChannel(t *testing.T) {
	n := newTestNotifier(t, NotifierOptions{Waiter: silent()})

	releaseA, a := n.Subscribe(model.QueueHideProduct)
	releaseB, b := n.Subscribe(model.QueueHideProduct)
	defer releaseB()

	releaseA()
	releaseA()
	assert.False(t, recv(t, a))

	select {
	case <-b:
		t.Fatal("other subscriber must stay open")
	default:
	}

	releaseB()
	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Empty(t, n.topics, "last release stops the listener")
}

func TestNotifier_StopAll(t *testing.T) {
	n := newTestNotifier(t, NotifierOptions{Waiter: silent()})

	releaseBulk, bulk := n.Subscribe(model.QueueBulkOperation)
	releaseHide, hide := n.Subscribe(model.QueueHideProduct)

	n.StopAll()
	assert.False(t, recv(t, bulk))
	assert.False(t, recv(t, hide))

	assert.NotPanics(t, func() {
		releaseBulk()
		releaseHide()
	})
}
