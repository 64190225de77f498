package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/acme/shelfsort/internal/domain/model"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until a job is announced on the queue or ctx ends.
type Waiter interface {
	WaitForNotification(ctx context.Context, queue model.QueueName) error
}

// Notifier wakes idle workers when jobs are added to their queue.
type Notifier interface {
	Subscribe(queue model.QueueName) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the behaviour of the default notifier implementation.
type NotifierOptions struct {
	Waiter     Waiter
	WaitWindow time.Duration
	Backoff    time.Duration
}

// topic is the set of subscribers of one queue plus its single listener goroutine.
type topic struct {
	cancel context.CancelFunc
	subs   map[chan struct{}]struct{}
}

// DefaultNotifier shares one listener per queue among all subscribers.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu     sync.Mutex
	topics map[model.QueueName]*topic
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}
	n := &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: opts.WaitWindow,
		backoff:    opts.Backoff,
		topics:     make(map[model.QueueName]*topic),
	}
	if n.waitWindow <= 0 {
		n.waitWindow = time.Minute
	}
	if n.backoff <= 0 {
		n.backoff = 250 * time.Millisecond
	}
	return n, nil
}

// Subscribe returns a wake-up channel for queue and a function that releases it.
// The channel is closed when released or when StopAll runs.
func (n *DefaultNotifier) Subscribe(queue model.QueueName) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.topics[queue]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		t = &topic{cancel: cancel, subs: make(map[chan struct{}]struct{})}
		n.topics[queue] = t
		go n.listen(ctx, queue)
	}
	ch := make(chan struct{}, 1)
	t.subs[ch] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() { n.release(queue, ch) })
	}
	return release, ch
}

func (n *DefaultNotifier) release(queue model.QueueName, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.topics[queue]
	if !ok {
		return
	}
	if _, ok := t.subs[ch]; !ok {
		return
	}
	delete(t.subs, ch)
	closeDrained(ch)
	if len(t.subs) == 0 {
		t.cancel()
		delete(n.topics, queue)
	}
}

// StopAll stops every listener and closes all subscriber channels.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for queue, t := range n.topics {
		t.cancel()
		for ch := range t.subs {
			closeDrained(ch)
		}
		delete(n.topics, queue)
	}
}

func (n *DefaultNotifier) listen(ctx context.Context, queue model.QueueName) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, queue)
		cancel()

		// Wake subscribers on timeouts too so they re-poll for delayed jobs.
		n.wake(queue)

		if err == nil || ctx.Err() != nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.backoff):
		}
	}
}

func (n *DefaultNotifier) wake(queue model.QueueName) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.topics[queue]
	if !ok {
		return
	}
	for ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func closeDrained(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
	close(ch)
}

var _ Notifier = (*DefaultNotifier)(nil)
