// Package confirmation relays typed messages between the scheduler and the
// parties that approve tool calls or run hooks.
//
// Publish is synchronous: handlers run in the publisher's goroutine in
// subscription order. Request/response exchanges are matched by correlation
// id through a pending table, so unrelated exchanges never see each other's
// answers.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateRequest is returned by Request when the correlation id is
// already waiting for a response.
var ErrDuplicateRequest = errors.New("correlation id already pending")

// Handler receives published messages of the type it subscribed to.
type Handler func(ctx context.Context, msg Message)

type subscriber struct {
	sub     *Subscription
	handler Handler
}

type pendingKey struct {
	typ MessageType
	id  string
}

// Bus is an in-memory, type-keyed publish/subscribe relay. It is safe for
// concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[MessageType][]subscriber

	pendingMu sync.Mutex
	pending   map[pendingKey]chan Correlated
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[MessageType][]subscriber),
		pending:     make(map[pendingKey]chan Correlated),
	}
}

// Subscription is a handle for a registered Handler.
type Subscription struct {
	bus  *Bus
	typ  MessageType
	once sync.Once
}

// Unsubscribe removes the handler. Calling it more than once is a no-op.
// A Publish already in progress may still deliver to the handler.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		subs := s.bus.subscribers[s.typ]
		for i, sub := range subs {
			if sub.sub == s {
				s.bus.subscribers[s.typ] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(s.bus.subscribers[s.typ]) == 0 {
			delete(s.bus.subscribers, s.typ)
		}
	})
}

// Subscribe registers h for messages of type typ.
func (b *Bus) Subscribe(typ MessageType, h Handler) *Subscription {
	s := &Subscription{bus: b, typ: typ}
	b.mu.Lock()
	b.subscribers[typ] = append(b.subscribers[typ], subscriber{sub: s, handler: h})
	b.mu.Unlock()
	return s
}

// Publish delivers msg to every current subscriber of msg.Type(), in
// subscription order, then completes the pending request it answers, if any.
// Publishing with no subscribers and no matching request does nothing.
func (b *Bus) Publish(ctx context.Context, msg Message) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subscribers[msg.Type()]))
	copy(subs, b.subscribers[msg.Type()])
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(ctx, msg)
	}

	if c, ok := msg.(Correlated); ok {
		b.resolve(c)
	}
}

func (b *Bus) resolve(resp Correlated) {
	if d, ok := resp.(deferrer); ok && d.Deferred() {
		return
	}
	key := pendingKey{typ: resp.Type(), id: resp.CorrelationID()}

	b.pendingMu.Lock()
	slot, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.pendingMu.Unlock()

	if ok {
		slot <- resp
	}
}

// Request publishes req and waits for the first decisive message of type
// responseType carrying the same correlation id. The slot is registered before
// req is published, so a response sent synchronously by a handler is not
// lost. Cancelling ctx abandons the request and removes its slot.
func (b *Bus) Request(ctx context.Context, req Correlated, responseType MessageType) (Correlated, error) {
	key := pendingKey{typ: responseType, id: req.CorrelationID()}
	slot := make(chan Correlated, 1)

	b.pendingMu.Lock()
	if _, exists := b.pending[key]; exists {
		b.pendingMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.CorrelationID())
	}
	b.pending[key] = slot
	b.pendingMu.Unlock()

	b.Publish(ctx, req)

	select {
	case resp := <-slot:
		return resp, nil
	case <-ctx.Done():
		b.pendingMu.Lock()
		if b.pending[key] == slot {
			delete(b.pending, key)
		}
		b.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

// Subscribed reports whether any handler is registered for typ.
func (b *Bus) Subscribed(typ MessageType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[typ]) > 0
}

// Pending reports how many requests are waiting for a response.
func (b *Bus) Pending() int {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	return len(b.pending)
}
