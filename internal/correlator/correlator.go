package correlator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// globalQueue is the single queue key used when all traffic is serialized.
const globalQueue = "*"

// Publisher sends a payload on an endpoint's outbound topic.
type Publisher interface {
	Publish(endpoint string, payload any) error
}

// Observer is notified about request lifecycle events. Calls happen on the
// requesting goroutine, outside the correlator's lock.
//
// id identifies one Request call and increases with every call, so the
// outcome of an exchange can be told apart from a newer one on the wire.
// RequestSent is skipped for requests that never left the queue.
type Observer interface {
	RequestSent(id uint64, endpoint string, payload any)
	ResponseReceived(id uint64, endpoint string, resp protocol.Response, elapsed time.Duration)
	RequestFailed(id uint64, endpoint string, err error, elapsed time.Duration)
}

// outcome is the resolution of a pending request.
type outcome struct {
	resp protocol.Response
	err  error
}

// pending is one outstanding request.
type pending struct {
	endpoint string
	key      string

	// ready is closed when the request reaches the head of its queue.
	ready       chan struct{}
	readyClosed bool

	// result receives exactly one outcome; buffered so resolvers never block.
	result   chan outcome
	resolved bool

	// sent is set once the request may be answered.
	sent bool
}

// Correlator matches responses to requests.
//
// Thread Safety:
//   - Request may be called from any number of goroutines.
//   - Deliver and FailAll never block.
type Correlator struct {
	pub            Publisher
	defaultTimeout time.Duration
	serializeAll   bool

	lastID atomic.Uint64

	mu     sync.Mutex
	queues map[string][]*pending

	obsMu     sync.RWMutex
	observers []Observer
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithSerializeAll allows one in-flight request across all endpoints.
func WithSerializeAll() Option {
	return func(c *Correlator) {
		c.serializeAll = true
	}
}

// New creates a correlator publishing through pub. defaultTimeout applies
// when Request is called with a zero timeout.
func New(pub Publisher, defaultTimeout time.Duration, opts ...Option) *Correlator {
	c := &Correlator{
		pub:            pub,
		defaultTimeout: defaultTimeout,
		queues:         make(map[string][]*pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddObserver registers an observer.
func (c *Correlator) AddObserver(o Observer) {
	c.obsMu.Lock()
	c.observers = append(c.observers, o)
	c.obsMu.Unlock()
}

// Request publishes payload on endpoint and waits for the matching response.
//
// The timeout window covers the time spent queued behind earlier requests to
// the same endpoint plus the wait for the response. A zero timeout uses the
// default.
//
// Errors:
//   - protocol.ErrTimeout when the window elapses
//   - protocol.ErrConnection (and refinements) when publishing fails or the link drops
//   - protocol.ErrDecode when the response is not a JSON object
//   - the context error when ctx is done
func (c *Correlator) Request(ctx context.Context, endpoint string, payload any, timeout time.Duration) (protocol.Response, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is empty", protocol.ErrInvalidArgument)
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: request timeout must be positive", protocol.ErrInvalidArgument)
	}

	id := c.lastID.Add(1)
	start := time.Now()
	resp, err := c.do(ctx, id, endpoint, payload, timeout)
	elapsed := time.Since(start)

	for _, o := range c.snapshotObservers() {
		if err != nil {
			o.RequestFailed(id, endpoint, err, elapsed)
		} else {
			o.ResponseReceived(id, endpoint, resp, elapsed)
		}
	}
	return resp, err
}

func (c *Correlator) do(ctx context.Context, id uint64, endpoint string, payload any, timeout time.Duration) (protocol.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}

	p := c.enqueue(endpoint)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Wait for our turn.
	select {
	case <-p.ready:
	case <-timer.C:
		return c.abandon(p, fmt.Errorf("%w: %s queued for %v", protocol.ErrTimeout, endpoint, timeout))
	case <-ctx.Done():
		return c.abandon(p, fmt.Errorf("request %s: %w", endpoint, ctx.Err()))
	}

	c.mu.Lock()
	if p.resolved {
		// FailAll ran while we were queued.
		c.mu.Unlock()
		o := <-p.result
		return o.resp, o.err
	}
	// Mark before publishing: the answer may arrive before Publish returns.
	p.sent = true
	c.mu.Unlock()

	if err := c.pub.Publish(endpoint, payload); err != nil {
		return c.abandon(p, err)
	}

	for _, o := range c.snapshotObservers() {
		o.RequestSent(id, endpoint, payload)
	}

	select {
	case o := <-p.result:
		return o.resp, o.err
	case <-timer.C:
		return c.abandon(p, fmt.Errorf("%w: no response on %s within %v", protocol.ErrTimeout, endpoint, timeout))
	case <-ctx.Done():
		return c.abandon(p, fmt.Errorf("request %s: %w", endpoint, ctx.Err()))
	}
}

// Deliver offers a response for endpoint. It resolves the in-flight head of
// the endpoint's queue and reports whether it did. Responses for idle
// endpoints are discarded. A non-nil err resolves the head with that error.
func (c *Correlator) Deliver(endpoint string, resp protocol.Response, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.keyFor(endpoint)
	q := c.queues[key]
	if len(q) == 0 {
		return false
	}
	head := q[0]
	if head.endpoint != endpoint || !head.sent || head.resolved {
		return false
	}

	if err != nil {
		err = fmt.Errorf("response on %s: %w", endpoint, err)
	}
	c.resolveLocked(head, outcome{resp: resp, err: err})
	return true
}

// FailAll resolves every pending request with err.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, q := range c.queues {
		for _, p := range q {
			if p.resolved {
				continue
			}
			p.resolved = true
			p.result <- outcome{err: err}
			if !p.readyClosed {
				p.readyClosed = true
				close(p.ready)
			}
		}
		delete(c.queues, key)
	}
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, q := range c.queues {
		n += len(q)
	}
	return n
}

// PendingFor returns the number of outstanding requests for endpoint.
func (c *Correlator) PendingFor(endpoint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, p := range c.queues[c.keyFor(endpoint)] {
		if p.endpoint == endpoint {
			n++
		}
	}
	return n
}

func (c *Correlator) keyFor(endpoint string) string {
	if c.serializeAll {
		return globalQueue
	}
	return endpoint
}

// enqueue appends a new request; it is ready at once if the queue was empty.
func (c *Correlator) enqueue(endpoint string) *pending {
	p := &pending{
		endpoint: endpoint,
		key:      c.keyFor(endpoint),
		ready:    make(chan struct{}),
		result:   make(chan outcome, 1),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.queues[p.key] = append(c.queues[p.key], p)
	if len(c.queues[p.key]) == 1 {
		p.readyClosed = true
		close(p.ready)
	}
	return p
}

// abandon ends p with err unless something else resolved it first, in which
// case that earlier outcome wins.
func (c *Correlator) abandon(p *pending, err error) (protocol.Response, error) {
	c.mu.Lock()
	if !p.resolved {
		c.resolveLocked(p, outcome{err: err})
	}
	c.mu.Unlock()

	o := <-p.result
	return o.resp, o.err
}

// resolveLocked stores the outcome, removes p from its queue and promotes the
// next request. c.mu must be held.
func (c *Correlator) resolveLocked(p *pending, o outcome) {
	p.resolved = true
	p.result <- o

	q := c.queues[p.key]
	for i, other := range q {
		if other != p {
			continue
		}
		q = append(q[:i], q[i+1:]...)
		break
	}
	if len(q) == 0 {
		delete(c.queues, p.key)
		return
	}
	c.queues[p.key] = q

	next := q[0]
	if !next.readyClosed {
		next.readyClosed = true
		close(next.ready)
	}
}

func (c *Correlator) snapshotObservers() []Observer {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	return append([]Observer(nil), c.observers...)
}
