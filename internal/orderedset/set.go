// Package orderedset provides an insertion-ordered set.
package orderedset

// Set keeps the first-insertion order of its members.
type Set[T comparable] struct {
	index map[T]struct{}
	items []T
}

func New[T comparable]() *Set[T] {
	return &Set[T]{index: make(map[T]struct{})}
}

// Add inserts v and reports whether it was new.
func (s *Set[T]) Add(v T) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

func (s *Set[T]) Has(v T) bool {
	_, ok := s.index[v]
	return ok
}

func (s *Set[T]) Len() int { return len(s.items) }

// Values returns a copy of the members in insertion order.
func (s *Set[T]) Values() []T {
	return append([]T(nil), s.items...)
}
