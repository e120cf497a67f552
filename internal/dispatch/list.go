package dispatch

import "sync"

// List is a mutex-guarded append-only buffer. It is the only structure
// shared between workers within one dispatch.
type List[T any] struct {
	mu    sync.Mutex
	items []T
}

// Append adds one item.
func (l *List[T]) Append(item T) {
	l.mu.Lock()
	l.items = append(l.items, item)
	l.mu.Unlock()
}

// Items returns a copy of the accumulated items.
func (l *List[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the current item count.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Reset clears the buffer.
func (l *List[T]) Reset() {
	l.mu.Lock()
	l.items = nil
	l.mu.Unlock()
}
