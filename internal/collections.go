package internal

import (
	"cmp"
	"slices"
	"strings"
)

// Set is a collection of unique items.
type Set[T comparable] struct {
	items map[T]struct{}
}

// NewSet creates a set holding items.
func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func (s *Set[T]) Add(item T) {
	s.items[item] = struct{}{}
}

func (s *Set[T]) Remove(item T) {
	delete(s.items, item)
}

func (s *Set[T]) Contains(item T) bool {
	_, exists := s.items[item]
	return exists
}

func (s *Set[T]) Size() int {
	return len(s.items)
}

// Sorted returns the items of s in ascending order.
func Sorted[T cmp.Ordered](s *Set[T]) []T {
	out := make([]T, 0, len(s.items))
	for item := range s.items {
		out = append(out, item)
	}
	slices.Sort(out)
	return out
}

// NameSet holds SQL identifiers. MySQL compares column and constraint names
// case-insensitively, so lookups fold case.
type NameSet struct {
	set *Set[string]
}

func NewNameSet(names ...string) NameSet {
	ns := NameSet{set: NewSet[string]()}
	for _, n := range names {
		ns.Add(n)
	}
	return ns
}

func (n NameSet) Add(name string) {
	n.set.Add(strings.ToLower(name))
}

func (n NameSet) Contains(name string) bool {
	return n.set.Contains(strings.ToLower(name))
}

func (n NameSet) Size() int {
	return n.set.Size()
}
