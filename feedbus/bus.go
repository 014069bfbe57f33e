package feedbus

import (
	"errors"
	"sync"
)

// ErrBusClosed is returned when publishing or subscribing on a closed bus.
var ErrBusClosed = errors.New("feed bus is closed")

// DefaultBuffer is the per-subscription channel depth.
const DefaultBuffer = 64

// AllJobs subscribes to every job's feed.
const AllJobs = ""

// Bus is a thread-safe in-memory feed bus for single-process deployments.
//
// Features:
//   - Per-job fan-out to multiple subscribers
//   - Publish-order delivery per subscriber
//   - Middleware chain for cross-cutting concerns
//
// Delivery is latest-wins under backpressure: when a subscriber's buffer is
// full the oldest pending message is dropped to make room, so order is
// preserved and a slow consumer converges on the newest state instead of
// stalling producers.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string][]*Subscription // job ID -> subscriptions; AllJobs key matches everything
	middleware []Middleware
	closed     bool
}

// NewBus creates an empty feed bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string][]*Subscription),
	}
}

// Use appends middleware to the chain. Not safe to call concurrently with
// Publish; wire middleware at construction time.
func (b *Bus) Use(m Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, m)
}

// Subscribe registers a subscription for one job's feed (or AllJobs for
// everything). buffer <= 0 uses DefaultBuffer.
func (b *Bus) Subscribe(jobID string, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	sub := &Subscription{
		bus:   b,
		jobID: jobID,
		ch:    make(chan Message, buffer),
	}
	b.subs[jobID] = append(b.subs[jobID], sub)
	return sub, nil
}

// Publish delivers a message to every subscription for the message's job
// and to AllJobs subscriptions. Middleware runs before delivery and can veto
// the message by returning nil.
func (b *Bus) Publish(msg Message) error {
	if msg == nil {
		return nil
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	middleware := b.middleware
	targets := make([]*Subscription, 0, len(b.subs[msg.JobID()])+len(b.subs[AllJobs]))
	targets = append(targets, b.subs[msg.JobID()]...)
	if msg.JobID() != AllJobs {
		targets = append(targets, b.subs[AllJobs]...)
	}
	b.mu.RUnlock()

	for _, m := range middleware {
		processed, err := m.Before(msg)
		if err != nil {
			return err
		}
		if processed == nil {
			return nil
		}
		msg = processed
	}

	for _, sub := range targets {
		sub.deliver(msg)
	}

	for _, m := range middleware {
		m.After(msg, len(targets))
	}
	return nil
}

// Close tears down the bus and every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.closeLocked()
		}
	}
	b.subs = make(map[string][]*Subscription)
}

// SubscriberCount returns the number of live subscriptions for a job.
func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	subs := b.subs[sub.jobID]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.jobID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.jobID]) == 0 {
		delete(b.subs, sub.jobID)
	}
}

// =============================================================================
// Subscription
// =============================================================================

// Subscription is one consumer's ordered view of a job feed.
type Subscription struct {
	bus   *Bus
	jobID string

	mu     sync.Mutex
	ch     chan Message
	closed bool
}

// C returns the receive channel. It is closed when the subscription or the
// bus closes.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) closeLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// deliver enqueues in publish order, dropping the oldest pending message
// when the buffer is full.
func (s *Subscription) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- msg:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}
