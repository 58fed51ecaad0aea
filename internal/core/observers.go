package core

import (
	"sync"
	"sync/atomic"
)

// Handle identifies one registered callback. Handles are unique across
// every registry in the process, so one Unsubscribe can serve several lists.
type Handle uint64

var handleSeq atomic.Uint64

func nextHandle() Handle { return Handle(handleSeq.Add(1)) }

type entry[T any] struct {
	h  Handle
	fn func(T)
}

// Observers is a callback list with explicit unregister.
// Emit calls handlers in registration order on the caller's goroutine.
type Observers[T any] struct {
	mu   sync.RWMutex
	list []entry[T]
}

func (o *Observers[T]) Add(fn func(T)) Handle {
	h := nextHandle()
	o.mu.Lock()
	o.list = append(o.list, entry[T]{h: h, fn: fn})
	o.mu.Unlock()
	return h
}

// Remove reports whether h was registered.
func (o *Observers[T]) Remove(h Handle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, e := range o.list {
		if e.h == h {
			o.list = append(o.list[:i:i], o.list[i+1:]...)
			return true
		}
	}
	return false
}

func (o *Observers[T]) Emit(v T) {
	o.mu.RLock()
	snapshot := make([]entry[T], len(o.list))
	copy(snapshot, o.list)
	o.mu.RUnlock()

	for _, e := range snapshot {
		e.fn(v)
	}
}

func (o *Observers[T]) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.list)
}

func (o *Observers[T]) Clear() {
	o.mu.Lock()
	o.list = nil
	o.mu.Unlock()
}
