// Package events implements the in-process publish/subscribe registry used
// to chain jobs. Delivery is synchronous, in registration order, and scoped
// to one runner process; nothing is persisted.
package events

import (
	"fmt"
	"sync"
)

// Listener handles one triggered event. A returned error propagates to the
// Trigger caller; the manager swallows nothing.
type Listener func(payload any) error

// Manager holds named events and their ordered listeners. It is constructed
// explicitly and injected into the scheduler and jobs, never a package-level
// singleton, so tests can build their own.
type Manager struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{listeners: make(map[string][]Listener)}
}

// Listen appends a listener to the named event.
func (m *Manager) Listen(name string, l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[name] = append(m.listeners[name], l)
}

// Trigger calls every listener registered for the event, in registration
// order, stopping at the first error. Unknown event names are a no-op.
func (m *Manager) Trigger(name string, payload any) error {
	m.mu.RLock()
	listeners := make([]Listener, len(m.listeners[name]))
	copy(listeners, m.listeners[name])
	m.mu.RUnlock()

	for i, l := range listeners {
		if err := l(payload); err != nil {
			return fmt.Errorf("event %s listener %d: %w", name, i, err)
		}
	}
	return nil
}
