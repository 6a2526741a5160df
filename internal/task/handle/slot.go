package handle

import "sync/atomic"

// state tags the value held by a slot.
//
//	empty  -> linked | disposed | done   (future slot)
//	linked -> linked | disposed | done   (future slot may be re-linked)
//	linked -> disposed | done            (parent slot)
//	disposed, done                       (terminal)
type state uint8

const (
	stateEmpty state = iota
	stateLinked
	stateDisposed
	stateDone
)

func (s state) terminal() bool { return s == stateDisposed || s == stateDone }

func (s state) String() string {
	switch s {
	case stateEmpty:
		return "empty"
	case stateLinked:
		return "linked"
	case stateDisposed:
		return "disposed"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// cell is an immutable tagged value. A slot never mutates a cell in place;
// it swaps in a fresh one.
type cell[T any] struct {
	state state
	ref   T
}

// slot is a CAS-only atomic cell. It is always initialized before use, so
// load never returns nil.
type slot[T any] struct {
	p atomic.Pointer[cell[T]]
}

func (s *slot[T]) init(st state, ref T) {
	s.p.Store(&cell[T]{state: st, ref: ref})
}

func (s *slot[T]) load() *cell[T] { return s.p.Load() }

// cas replaces old (as previously loaded) with a new cell.
func (s *slot[T]) cas(old *cell[T], st state, ref T) bool {
	return s.p.CompareAndSwap(old, &cell[T]{state: st, ref: ref})
}
