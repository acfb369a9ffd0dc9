package lamb

import (
	"slices"
	"sync"
)

// Slots assigns instances to a fixed number of output channels. A new
// instance takes the lowest free channel; when every channel is taken the
// instance stays unassigned.
type Slots struct {
	mu    sync.Mutex
	slots []int64 // instance id per channel, 0 when free
	index map[int64]int
}

// NewSlots creates n free channels.
func NewSlots(n int) *Slots {
	return &Slots{
		slots: make([]int64, n),
		index: make(map[int64]int),
	}
}

// Acquire assigns id to the lowest free channel. An id that already holds a
// channel keeps it. ok is false when all channels are taken.
func (s *Slots) Acquire(id int64) (channel int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.index[id]; ok {
		return ch, true
	}
	ch := slices.Index(s.slots, 0)
	if ch < 0 {
		return -1, false
	}
	s.slots[ch] = id
	s.index[id] = ch
	return ch, true
}

// Release frees the channel held by id.
func (s *Slots) Release(id int64) (channel int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.index[id]
	if !ok {
		return -1, false
	}
	delete(s.index, id)
	s.slots[ch] = 0
	return ch, true
}

// Channel returns the channel held by id.
func (s *Slots) Channel(id int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.index[id]
	return ch, ok
}

// Assignments returns the instance id per channel, 0 for free channels.
func (s *Slots) Assignments() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.slots)
}

// Free returns the number of free channels.
func (s *Slots) Free() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots) - len(s.index)
}
