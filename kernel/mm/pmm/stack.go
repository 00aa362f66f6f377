package pmm

import (
	"kobzar/kernel"
	"kobzar/kernel/mm"
)

// FreeStack is a LIFO stack of free superpages that have no tracking record.
// The stack operates on caller-supplied storage that is sized once when the
// allocator is set up; it never grows.
type FreeStack struct {
	storage []mm.Page2M
	count   int
}

// NewFreeStack returns an empty stack that can hold up to len(storage)
// superpages.
func NewFreeStack(storage []mm.Page2M) *FreeStack {
	return &FreeStack{storage: storage[:len(storage):len(storage)]}
}

// Push adds a superpage to the top of the stack. It fails with ErrStackFull
// if the storage is exhausted.
func (s *FreeStack) Push(page mm.Page2M) *kernel.Error {
	if s.count == len(s.storage) {
		return ErrStackFull
	}

	s.storage[s.count] = page
	s.count++
	return nil
}

// Pop removes and returns the superpage at the top of the stack. The second
// return value is false if the stack is empty.
func (s *FreeStack) Pop() (mm.Page2M, bool) {
	if s.count == 0 {
		return mm.InvalidPage2M, false
	}

	s.count--
	return s.storage[s.count], true
}

// Count returns the number of superpages on the stack.
func (s *FreeStack) Count() int { return s.count }

// Cap returns the maximum number of superpages the stack can hold.
func (s *FreeStack) Cap() int { return len(s.storage) }

// visit invokes fn for every page on the stack from top to bottom until fn
// returns false.
func (s *FreeStack) visit(fn func(mm.Page2M) bool) {
	for i := s.count - 1; i >= 0; i-- {
		if !fn(s.storage[i]) {
			return
		}
	}
}
