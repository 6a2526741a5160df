// Package composite provides the owning collection for scheduled task handles.
//
// A Set tracks live members so they can be disposed en masse. Members
// unlink themselves through Delete when they finish, and a disposed Set
// refuses (and disposes) late additions.
package composite

import "sync"

// Disposable is anything the Set can dispose.
type Disposable interface {
	comparable
	Dispose()
}

// Set is a mutex-guarded collection of disposables.
//
// Member Dispose calls are always made without holding the lock, so members
// may call back into Delete re-entrantly.
type Set[T Disposable] struct {
	mu       sync.Mutex
	members  map[T]struct{}
	disposed bool
}

// New returns an empty set.
func New[T Disposable]() *Set[T] {
	return &Set[T]{members: map[T]struct{}{}}
}

// Add tracks t. If the set is already disposed, t is disposed instead and
// Add returns false.
func (s *Set[T]) Add(t T) bool {
	s.mu.Lock()
	if !s.disposed {
		if s.members == nil {
			s.members = map[T]struct{}{}
		}
		s.members[t] = struct{}{}
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	t.Dispose()
	return false
}

// Delete untracks t without disposing it.
func (s *Set[T]) Delete(t T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	if _, ok := s.members[t]; !ok {
		return false
	}
	delete(s.members, t)
	return true
}

// Remove untracks t and disposes it.
func (s *Set[T]) Remove(t T) bool {
	if !s.Delete(t) {
		return false
	}
	t.Dispose()
	return true
}

// Dispose marks the set disposed and disposes every member. Idempotent.
func (s *Set[T]) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	members := s.members
	s.members = nil
	s.mu.Unlock()

	for t := range members {
		t.Dispose()
	}
}

// Clear disposes every current member but keeps the set usable.
func (s *Set[T]) Clear() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	members := s.members
	s.members = map[T]struct{}{}
	s.mu.Unlock()

	for t := range members {
		t.Dispose()
	}
}

func (s *Set[T]) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Each calls fn for a snapshot of the current members. Returning false stops
// the iteration. fn runs without the lock held.
func (s *Set[T]) Each(fn func(t T) bool) {
	s.mu.Lock()
	snap := make([]T, 0, len(s.members))
	for t := range s.members {
		snap = append(snap, t)
	}
	s.mu.Unlock()

	for _, t := range snap {
		if !fn(t) {
			return
		}
	}
}
