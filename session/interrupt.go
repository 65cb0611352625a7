package session

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

// DefaultBargeInThreshold is the minimum number of runes a partial
// transcript must carry before it counts as a barge-in. The threshold is
// the tunable knob of the heuristic: shorter fragments are treated as
// noise or backchannel, not an interruption.
const DefaultBargeInThreshold = 10

// Clearer is the line surface the detector uses to cut off playback.
type Clearer interface {
	Clear() error
}

// Detector decides, on each partial transcript, whether the caller has
// begun speaking over outstanding agent audio, and if so clears the line
// and cancels in-flight playback. This is a length heuristic, not a full
// voice-activity decision.
type Detector struct {
	line      Clearer
	seq       *Sequencer
	marks     *MarkSet
	threshold int
	log       *slog.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithBargeInThreshold overrides the minimum fragment length.
func WithBargeInThreshold(runes int) DetectorOption {
	return func(d *Detector) {
		if runes > 0 {
			d.threshold = runes
		}
	}
}

// WithDetectorLogger sets the detector logger.
func WithDetectorLogger(log *slog.Logger) DetectorOption {
	return func(d *Detector) {
		d.log = log
	}
}

// NewDetector creates a barge-in detector over the given line, sequencer,
// and mark set.
func NewDetector(line Clearer, seq *Sequencer, marks *MarkSet, opts ...DetectorOption) *Detector {
	d := &Detector{
		line:      line,
		seq:       seq,
		marks:     marks,
		threshold: DefaultBargeInThreshold,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnFragment evaluates one partial transcript. When a barge-in is
// confirmed it issues a clear-playback instruction, cancels all in-flight
// response indices, and discards outstanding marks; it returns the lowest
// cancelled index and true. If the line had already finished playing, the
// clear is a harmless no-op on the provider side.
func (d *Detector) OnFragment(text string) (int, bool) {
	if d.marks.Len() == 0 {
		return 0, false
	}

	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < d.threshold {
		return 0, false
	}
	if isBackchannel(trimmed) {
		d.log.Debug("ignoring backchannel during playback", "text", trimmed)
		return 0, false
	}

	from := d.seq.CancelInFlight()
	if err := d.line.Clear(); err != nil {
		d.log.Debug("clear-playback failed", "error", err)
	}
	dropped := d.marks.Clear()
	d.log.Debug("barge-in confirmed", "from", from, "droppedMarks", dropped)
	return from, true
}

// isBackchannel reports whether the fragment is a listening cue rather
// than an interruption.
func isBackchannel(text string) bool {
	lower := strings.ToLower(text)
	switch lower {
	case "uh huh", "uh-huh", "mm hmm", "mm-hmm", "mhm",
		"yeah", "yep", "okay", "ok", "right", "i see", "got it",
		"sure", "alright", "all right", "hmm", "oh okay":
		return true
	}
	return false
}
