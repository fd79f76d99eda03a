// Package notifier keeps an ordered list of callbacks and fans values out to
// them.
//
// A Registry is not safe for concurrent use. Callbacks must not register or
// close entries on the registry that is notifying them.
package notifier

import "sync/atomic"

// Handle identifies one registration. Handles are unique for the life of the
// process, so a handle from one registry never matches an entry in another.
type Handle uint64

var lastHandle atomic.Uint64

type entry[T any] struct {
	handle Handle
	fn     func(T)
}

// Registry is an ordered list of callbacks receiving values of type T.
type Registry[T any] struct {
	entries []entry[T]
}

// Register appends fn and returns the handle needed to close it. The same
// function may be registered more than once; each registration gets its own
// handle.
func (r *Registry[T]) Register(fn func(T)) Handle {
	h := Handle(lastHandle.Add(1))
	r.entries = append(r.entries, entry[T]{handle: h, fn: fn})
	return h
}

// Notify calls every registered callback in registration order with v.
func (r *Registry[T]) Notify(v T) {
	for _, e := range r.entries {
		e.fn(v)
	}
}

// Close removes the registration with handle h and reports whether it was
// present.
func (r *Registry[T]) Close(h Handle) bool {
	for i, e := range r.entries {
		if e.handle == h {
			// Copy so a Notify in progress keeps iterating the old list.
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// CloseAll removes every registration.
func (r *Registry[T]) CloseAll() {
	r.entries = nil
}

// Len returns the number of registrations.
func (r *Registry[T]) Len() int {
	return len(r.entries)
}
