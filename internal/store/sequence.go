package store

import (
	"sync/atomic"
	"time"
)

// Sequence hands out note ids. Ids are shaped like Unix milliseconds but are
// strictly increasing: two calls in the same millisecond, or after the wall
// clock steps backwards, still get distinct values.
type Sequence struct {
	last atomic.Int64
	now  func() time.Time
}

// NewSequence returns a Sequence whose ids are all greater than floor.
func NewSequence(floor int64) *Sequence {
	s := &Sequence{now: time.Now}
	s.last.Store(floor)
	return s
}

// Next returns the next id.
func (s *Sequence) Next() int64 {
	for {
		last := s.last.Load()
		next := s.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if s.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Last returns the most recently issued id, or the floor if none was issued.
func (s *Sequence) Last() int64 {
	return s.last.Load()
}
