// Package checked provides a generic change detector used throughout the
// debounce, run-on-delay, and monitor tasks to implement "publish only on
// change" without each call site hand-rolling an equality check.
package checked

// Update holds the most recently stored value of T and reports whether a
// later Store call actually changed it. The zero value has no stored value
// yet, so the first Store always reports changed.
type Update[T comparable] struct {
	value T
	set   bool
}

// New returns an Update already initialized with value, as if Store(value)
// had been called once on a zero Update.
func New[T comparable](value T) Update[T] {
	return Update[T]{value: value, set: true}
}

// Store writes value, returning true if it differs from the previously
// stored value (or if no value had been stored yet).
func (u *Update[T]) Store(value T) bool {
	if u.set && u.value == value {
		return false
	}
	u.value = value
	u.set = true
	return true
}

// Get returns the most recently stored value and whether one has been set.
func (u *Update[T]) Get() (T, bool) {
	return u.value, u.set
}
