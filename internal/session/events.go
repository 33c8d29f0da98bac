package session

import (
	"sync"
	"time"

	"github.com/giantswarm/authkeeper/pkg/oauth"
)

// EventType identifies a session event.
type EventType int

const (
	// EventLoginSuccess fires after a code exchange, a successful refresh, or a
	// restored valid session.
	EventLoginSuccess EventType = iota

	// EventLoginFailed fires when a login attempt ends without a session.
	EventLoginFailed

	// EventLogout fires on every Logout call and when a refresh is rejected.
	EventLogout
)

func (t EventType) String() string {
	switch t {
	case EventLoginSuccess:
		return "login_success"
	case EventLoginFailed:
		return "login_failed"
	case EventLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers.
type Event struct {
	Type EventType

	// Reason is set for EventLoginFailed.
	Reason string

	// Claims is set for EventLoginSuccess.
	Claims oauth.Claims

	At time.Time
}

// Handler receives events.
type Handler func(Event)

// Dispatcher decides where handlers run.
type Dispatcher interface {
	Dispatch(fn func())
}

// SyncDispatcher runs handlers on the goroutine that produced the event.
type SyncDispatcher struct{}

func (SyncDispatcher) Dispatch(fn func()) { fn() }

// QueueDispatcher runs handlers one at a time on its own goroutine, in the
// order events were produced.
type QueueDispatcher struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

// NewQueueDispatcher starts the delivery goroutine. Close stops it.
func NewQueueDispatcher(buffer int) *QueueDispatcher {
	d := &QueueDispatcher{
		queue: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *QueueDispatcher) run() {
	defer close(d.done)
	for fn := range d.queue {
		fn()
	}
}

func (d *QueueDispatcher) Dispatch(fn func()) {
	d.queue <- fn
}

// Close delivers everything already queued and stops the goroutine.
// Dispatch must not be called after Close.
func (d *QueueDispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	<-d.done
}

// bus holds subscribers and publishes events through a Dispatcher.
type bus struct {
	dispatcher Dispatcher

	mu       sync.Mutex
	nextID   int
	handlers []subscription

	// pending events; only one goroutine drains at a time so delivery order
	// matches production order even when handlers call back into the manager.
	queueMu  sync.Mutex
	pending  []Event
	draining bool
}

type subscription struct {
	id      int
	handler Handler
}

func newBus(d Dispatcher) *bus {
	if d == nil {
		d = SyncDispatcher{}
	}
	return &bus{dispatcher: d}
}

func (b *bus) subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.handlers {
			if s.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// push queues an event. It may be called while holding the manager lock.
func (b *bus) push(ev Event) {
	b.queueMu.Lock()
	b.pending = append(b.pending, ev)
	b.queueMu.Unlock()
}

// flush delivers queued events. It must be called without the manager lock.
func (b *bus) flush() {
	b.queueMu.Lock()
	if b.draining {
		b.queueMu.Unlock()
		return
	}
	b.draining = true
	for len(b.pending) > 0 {
		ev := b.pending[0]
		b.pending = b.pending[1:]
		b.queueMu.Unlock()

		b.publish(ev)

		b.queueMu.Lock()
	}
	b.draining = false
	b.queueMu.Unlock()
}

func (b *bus) publish(ev Event) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	for i, s := range b.handlers {
		handlers[i] = s.handler
	}
	b.mu.Unlock()

	if len(handlers) == 0 {
		return
	}
	b.dispatcher.Dispatch(func() {
		for _, h := range handlers {
			h(ev)
		}
	})
}
