package backend

import (
	"sync"
	"time"
)

// StatusManager encapsulates connection status state and listener
// bookkeeping. Shared by all backend variants.
type StatusManager struct {
	mu        sync.Mutex
	status    Status
	nextID    int
	listeners map[int]StatusCallback
}

func NewStatusManager(initial Status) *StatusManager {
	return &StatusManager{
		status:    initial,
		listeners: make(map[int]StatusCallback),
	}
}

func (m *StatusManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Set transitions to a new status and notifies listeners. No-op when the
// status is unchanged. Listener panics are swallowed so one bad subscriber
// cannot break the transition.
func (m *StatusManager) Set(newStatus Status, err error) {
	m.mu.Lock()
	if m.status == newStatus {
		m.mu.Unlock()
		return
	}
	event := StatusEvent{From: m.status, To: newStatus, At: time.Now(), Err: err}
	m.status = newStatus
	callbacks := make([]StatusCallback, 0, len(m.listeners))
	for _, cb := range m.listeners {
		callbacks = append(callbacks, cb)
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		notify(cb, event)
	}
}

func notify(cb StatusCallback, event StatusEvent) {
	defer func() { _ = recover() }()
	cb(event)
}

// Subscribe registers a callback and returns its unsubscribe function.
func (m *StatusManager) Subscribe(cb StatusCallback) Unsubscribe {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = cb
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Clear removes all listeners. Called during destroy.
func (m *StatusManager) Clear() {
	m.mu.Lock()
	m.listeners = make(map[int]StatusCallback)
	m.mu.Unlock()
}
