package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Line is the outbound surface the sequencer writes to.
type Line interface {
	PlayAudio(audio []byte) error
	SendMark(label string) error
}

type bufferedChunk struct {
	label string
	audio []byte
	final bool
}

// Sequencer forwards synthesized audio chunks to the line in response-index
// order. Chunks for a future index are buffered until every earlier index
// has fully flushed; chunks for an index that has already been superseded
// or cancelled are silently dropped, never played out of order.
type Sequencer struct {
	line  Line
	marks *MarkSet
	log   *slog.Logger

	mu             sync.Mutex
	head           int // index currently flushing, -1 when idle
	maxSeen        int
	flushedThrough int // highest index whose final chunk reached the line
	cancelled      map[int]bool
	buffered       map[int][]bufferedChunk
}

// NewSequencer creates a sequencer writing to the given line.
func NewSequencer(line Line, marks *MarkSet, log *slog.Logger) *Sequencer {
	if log == nil {
		log = slog.Default()
	}
	return &Sequencer{
		line:           line,
		marks:          marks,
		log:            log,
		head:           -1,
		maxSeen:        -1,
		flushedThrough: -1,
		cancelled:      make(map[int]bool),
		buffered:       make(map[int][]bufferedChunk),
	}
}

// Enqueue accepts one synthesized chunk for the given response index and
// returns the mark label assigned to it. Stale chunks (index at or below
// the highest fully-flushed index, or cancelled) are dropped; their label
// is returned but never sent, so it is implicitly discarded at session end.
func (s *Sequencer) Enqueue(index int, audio []byte, final bool) string {
	label := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if index <= s.flushedThrough || s.cancelled[index] {
		s.log.Debug("dropping stale audio chunk", "index", index, "flushedThrough", s.flushedThrough)
		return label
	}
	if index > s.maxSeen {
		s.maxSeen = index
	}
	if s.head == -1 {
		s.head = index
	}

	switch {
	case index == s.head:
		s.flushLocked(bufferedChunk{label: label, audio: audio, final: final})
	case index > s.head:
		s.buffered[index] = append(s.buffered[index], bufferedChunk{label: label, audio: audio, final: final})
	default:
		// A higher index is already flushing; this straggler lost.
		s.log.Debug("dropping superseded audio chunk", "index", index, "head", s.head)
	}

	return label
}

// flushLocked writes one chunk of the head index to the line and advances
// the head when its final chunk has been sent.
func (s *Sequencer) flushLocked(chunk bufferedChunk) {
	if len(chunk.audio) > 0 {
		if err := s.line.PlayAudio(chunk.audio); err != nil {
			s.log.Debug("playback write failed", "index", s.head, "error", err)
			return
		}
		if err := s.line.SendMark(chunk.label); err == nil {
			s.marks.Add(chunk.label)
		}
	}
	if chunk.final {
		s.flushedThrough = s.head
		s.advanceLocked()
	}
}

// advanceLocked promotes the smallest buffered index above the flushed
// watermark to head and replays its buffer.
func (s *Sequencer) advanceLocked() {
	for {
		next := -1
		for index := range s.buffered {
			if index > s.flushedThrough && (next == -1 || index < next) {
				next = index
			}
		}
		if next == -1 {
			s.head = -1
			return
		}

		s.head = next
		chunks := s.buffered[next]
		delete(s.buffered, next)

		done := false
		for _, chunk := range chunks {
			s.flushLocked(chunk)
			if chunk.final {
				done = true
				break
			}
		}
		if !done {
			// Head still streaming; wait for more chunks.
			return
		}
	}
}

// Cancel drops buffered, not-yet-sent chunks for response indices at or
// above the given one and refuses any later chunks for them. Calling it
// repeatedly for the same index has the same effect as calling it once.
func (s *Sequencer) Cancel(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(index)
}

func (s *Sequencer) cancelLocked(index int) {
	// Cover at least the cancelled index itself, so a reply whose first
	// chunk has not arrived yet is still refused.
	limit := s.maxSeen
	if index > limit {
		limit = index
	}
	for i := index; i <= limit; i++ {
		s.cancelled[i] = true
		delete(s.buffered, i)
	}
	if index > s.maxSeen {
		s.maxSeen = index
	}
	if s.head >= index {
		s.head = -1
	}
}

// CancelInFlight cancels every index that has not fully flushed and
// returns the lowest cancelled index. When nothing is in flight it cancels
// and returns the next unseen index, so a reply in transit from the
// backend is dropped on arrival rather than played.
func (s *Sequencer) CancelInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.flushedThrough + 1
	s.cancelLocked(from)
	return from
}

// InFlight reports whether any index is currently flushing or buffered.
func (s *Sequencer) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head != -1 || len(s.buffered) > 0
}

// Reset discards all buffered chunks and bookkeeping. Used at session
// termination; outstanding line audio is the line's problem by then.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = -1
	s.maxSeen = -1
	s.flushedThrough = -1
	s.cancelled = make(map[int]bool)
	s.buffered = make(map[int][]bufferedChunk)
}
