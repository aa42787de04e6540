package ws

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/coopchat/coopchat-client/internal/proto"
)

// Listener consumes decoded inbound events.
type Listener func(proto.Event)

// Dispatcher fans every decoded server event out to registered
// listeners, synchronously and in registration order.
type Dispatcher struct {
	mu        sync.Mutex
	seq       int
	listeners []listenerEntry
	log       *zerolog.Logger
}

type listenerEntry struct {
	id int
	fn Listener
}

// NewDispatcher builds an empty dispatcher.
func NewDispatcher(logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{log: logger}
}

// AddListener registers fn and returns an unsubscribe function.
// Unsubscribing removes exactly this registration and is a no-op when
// called again.
func (d *Dispatcher) AddListener(fn Listener) func() {
	d.mu.Lock()
	d.seq++
	id := d.seq
	d.listeners = append(d.listeners, listenerEntry{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, entry := range d.listeners {
			if entry.id == id {
				d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

// Dispatch delivers the event to every listener in registration order.
// A panicking listener is recovered and logged so the remaining
// listeners still run.
func (d *Dispatcher) Dispatch(ev proto.Event) {
	d.mu.Lock()
	snapshot := make([]listenerEntry, len(d.listeners))
	copy(snapshot, d.listeners)
	d.mu.Unlock()

	for _, entry := range snapshot {
		d.invoke(entry.fn, ev)
	}
}

func (d *Dispatcher) invoke(fn Listener, ev proto.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("event_type", ev.Type).Msg("event listener panicked")
		}
	}()
	fn(ev)
}
