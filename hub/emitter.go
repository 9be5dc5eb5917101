package hub

import (
	"sync"
	"time"
)

// DefaultAwaitTimeout is used by Await when no timeout is given.
const DefaultAwaitTimeout = 5 * time.Second

// Handler receives the payload of one emitted event.
type Handler func(data any)

// Emitter is a named-event subscription table. Connections, rooms and the
// registry each own one. Handlers run synchronously on the emitting
// goroutine, in registration order.
type Emitter struct {
	mx     sync.Mutex
	nextID uint64
	subs   map[string][]*Subscription
}

// Subscription is a handle to one registered handler.
type Subscription struct {
	em    *Emitter
	event string
	id    uint64
	once  bool
	fn    Handler
}

func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[string][]*Subscription)}
}

// On registers fn for every occurrence of event.
func (e *Emitter) On(event string, fn Handler) *Subscription {
	return e.add(event, fn, false)
}

// Once registers fn for the next occurrence of event only.
func (e *Emitter) Once(event string, fn Handler) *Subscription {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn Handler, once bool) *Subscription {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.nextID++
	s := &Subscription{em: e, event: event, id: e.nextID, once: once, fn: fn}
	e.subs[event] = append(e.subs[event], s)
	return s
}

// Cancel removes the subscription and reports whether it was still active.
func (s *Subscription) Cancel() bool {
	s.em.mx.Lock()
	defer s.em.mx.Unlock()
	list := s.em.subs[s.event]
	for i, cur := range list {
		if cur.id == s.id {
			s.em.setSubs(s.event, append(list[:i:i], list[i+1:]...))
			return true
		}
	}
	return false
}

func (e *Emitter) setSubs(event string, list []*Subscription) {
	if len(list) == 0 {
		delete(e.subs, event)
		return
	}
	e.subs[event] = list
}

// Emit invokes every subscriber of event with data. Once subscriptions are
// deregistered before their handler runs, so a handler re-emitting the same
// event cannot fire itself twice.
func (e *Emitter) Emit(event string, data any) {
	e.mx.Lock()
	list := e.subs[event]
	fns := make([]Handler, len(list))
	kept := make([]*Subscription, 0, len(list))
	for i, s := range list {
		fns[i] = s.fn
		if !s.once {
			kept = append(kept, s)
		}
	}
	e.setSubs(event, kept)
	e.mx.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}

// Len reports the number of active subscriptions for event.
func (e *Emitter) Len(event string) int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return len(e.subs[event])
}

// Await blocks until the next occurrence of event and returns its payload,
// or fails with ErrTimeout. A non-positive timeout selects
// DefaultAwaitTimeout. The one-shot subscription is deregistered on both
// outcomes, so a later emit has no residual effect.
func (e *Emitter) Await(event string, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	fired := make(chan any, 1)
	sub := e.Once(event, func(data any) {
		fired <- data
	})
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data := <-fired:
		return data, nil
	case <-timer.C:
		if !sub.Cancel() {
			// the event won the race after all
			return <-fired, nil
		}
		return nil, ErrTimeout
	}
}
