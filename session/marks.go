package session

import "sync"

// MarkSet is the ordered set of playback marks sent to the line but not yet
// acknowledged. A mark represents "this chunk has started being sent", not
// "this chunk has finished playing"; the line confirms playback
// asynchronously.
type MarkSet struct {
	mu     sync.Mutex
	labels []string
}

// NewMarkSet creates an empty mark set.
func NewMarkSet() *MarkSet {
	return &MarkSet{}
}

// Add records a mark as outstanding.
func (s *MarkSet) Add(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = append(s.labels, label)
}

// Ack removes an outstanding mark. It returns false if the label is not
// outstanding, so a double acknowledgment is detectable.
func (s *MarkSet) Ack(label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.labels {
		if l == label {
			s.labels = append(s.labels[:i], s.labels[i+1:]...)
			return true
		}
	}
	return false
}

// Clear discards all outstanding marks and returns how many were dropped.
func (s *MarkSet) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.labels)
	s.labels = nil
	return n
}

// Len returns the number of outstanding marks.
func (s *MarkSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.labels)
}

// Labels returns a copy of the outstanding labels in send order.
func (s *MarkSet) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.labels))
	copy(out, s.labels)
	return out
}
