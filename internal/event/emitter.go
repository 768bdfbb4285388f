package event

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PanicHandler is called when a subscriber panics during delivery.
type PanicHandler func(name string, recovered any, stack []byte)

// Subscription is returned by Subscribe and removes the handler when cancelled.
//
// Cancel is safe to call more than once and from inside the handler itself.
type Subscription interface {
	// Cancel removes the subscription. Events already being delivered
	// to other subscribers are unaffected.
	Cancel()

	// Active reports whether the subscription still receives events.
	Active() bool
}

// Emitter is a typed publish/subscribe registry for a single notification.
//
// Emit snapshots the subscriber list before delivering, so handlers may
// subscribe or cancel during delivery. A panicking handler is recovered and
// reported to the panic handler; delivery continues with the next subscriber.
//
// Emitter is safe for concurrent use. The zero value is not usable; use NewEmitter.
type Emitter[T any] struct {
	name    string
	mu      sync.RWMutex
	subs    []*subscription[T]
	nextID  uint64
	onPanic PanicHandler
	closed  atomic.Bool
}

// EmitterOption configures an Emitter.
type EmitterOption func(*emitterConfig)

type emitterConfig struct {
	onPanic PanicHandler
}

// WithPanicHandler sets the function called when a subscriber panics.
func WithPanicHandler(fn PanicHandler) EmitterOption {
	return func(c *emitterConfig) {
		c.onPanic = fn
	}
}

// NewEmitter creates an emitter. The name is used in panic reports.
func NewEmitter[T any](name string, opts ...EmitterOption) *Emitter[T] {
	var cfg emitterConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Emitter[T]{
		name:    name,
		onPanic: cfg.onPanic,
	}
}

type subscription[T any] struct {
	id      uint64
	handler func(T)
	owner   *Emitter[T]
	active  atomic.Bool
}

func (s *subscription[T]) Cancel() {
	if !s.active.Swap(false) {
		return
	}
	s.owner.remove(s.id)
}

func (s *subscription[T]) Active() bool {
	return s.active.Load()
}

// Subscribe registers handler and returns its subscription.
// Subscribing to a closed emitter returns an inactive subscription.
func (e *Emitter[T]) Subscribe(handler func(T)) Subscription {
	sub := &subscription[T]{handler: handler, owner: e}
	if handler == nil || e.closed.Load() {
		return sub
	}

	e.mu.Lock()
	e.nextID++
	sub.id = e.nextID
	sub.active.Store(true)
	e.subs = append(e.subs, sub)
	e.mu.Unlock()

	return sub
}

// Once registers a handler that is cancelled after its first delivery.
func (e *Emitter[T]) Once(handler func(T)) Subscription {
	var (
		sub   Subscription
		fired atomic.Bool
	)
	ready := make(chan struct{})
	sub = e.Subscribe(func(v T) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		<-ready
		sub.Cancel()
		handler(v)
	})
	close(ready)
	return sub
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, s := range e.subs {
		if s.id == id {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every active subscriber in subscription order.
func (e *Emitter[T]) Emit(v T) {
	if e.closed.Load() {
		return
	}

	e.mu.RLock()
	snapshot := make([]*subscription[T], len(e.subs))
	copy(snapshot, e.subs)
	e.mu.RUnlock()

	for _, s := range snapshot {
		if !s.active.Load() {
			continue
		}
		e.deliver(s, v)
	}
}

func (e *Emitter[T]) deliver(s *subscription[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			if e.onPanic != nil {
				e.onPanic(e.name, r, debug.Stack())
			}
		}
	}()
	s.handler(v)
}

// Len returns the number of active subscribers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Close cancels every subscription and drops further emits.
func (e *Emitter[T]) Close() {
	if e.closed.Swap(true) {
		return
	}

	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, s := range subs {
		s.active.Store(false)
	}
}
