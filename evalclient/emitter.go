package evalclient

import (
	"sync"

	"github.com/matt-riley/flagbind"
)

type listenerEntry struct {
	id flagbind.ListenerID
	fn flagbind.Listener
}

// emitter keeps listeners per event in registration order.
type emitter struct {
	mu        sync.Mutex
	nextID    flagbind.ListenerID
	listeners map[flagbind.EventName][]listenerEntry
}

func (e *emitter) on(name flagbind.EventName, fn flagbind.Listener) flagbind.ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[flagbind.EventName][]listenerEntry)
	}
	e.nextID++
	e.listeners[name] = append(e.listeners[name], listenerEntry{id: e.nextID, fn: fn})
	return e.nextID
}

func (e *emitter) off(name flagbind.EventName, id flagbind.ListenerID) {
	if id == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.listeners[name]
	for i, entry := range entries {
		if entry.id == id {
			e.listeners[name] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// emit calls the listeners registered for ev.Name on the calling goroutine.
func (e *emitter) emit(ev flagbind.Event) {
	e.mu.Lock()
	entries := append([]listenerEntry(nil), e.listeners[ev.Name]...)
	e.mu.Unlock()

	for _, entry := range entries {
		entry.fn(ev)
	}
}

func (e *emitter) count(name flagbind.EventName) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[name])
}
