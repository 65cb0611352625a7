package session

import (
	"strings"
	"testing"
)

func newTestDetector(opts ...DetectorOption) (*Detector, *Sequencer, *fakeLine, *MarkSet) {
	line := &fakeLine{}
	marks := NewMarkSet()
	seq := NewSequencer(line, marks, nil)
	return NewDetector(line, seq, marks, opts...), seq, line, marks
}

func TestDetectorIgnoresFragmentsWhileSilent(t *testing.T) {
	det, _, line, _ := newTestDetector()

	// No outstanding marks means no agent audio is pending; even a long
	// fragment is just the caller talking.
	if _, cleared := det.OnFragment("tell me everything about my account balance"); cleared {
		t.Fatal("barge-in triggered with no outstanding playback")
	}
	line.mu.Lock()
	defer line.mu.Unlock()
	if line.clears != 0 {
		t.Fatal("line cleared with no outstanding playback")
	}
}

func TestDetectorIgnoresShortFragments(t *testing.T) {
	det, seq, line, _ := newTestDetector()
	seq.Enqueue(1, []byte("agent"), false)

	if _, cleared := det.OnFragment("uh"); cleared {
		t.Fatal("short fragment triggered barge-in")
	}
	line.mu.Lock()
	defer line.mu.Unlock()
	if line.clears != 0 {
		t.Fatal("line cleared on short fragment")
	}
}

func TestDetectorIgnoresBackchannel(t *testing.T) {
	det, seq, _, _ := newTestDetector(WithBargeInThreshold(3))
	seq.Enqueue(1, []byte("agent"), false)

	for _, cue := range []string{"uh huh", "mm-hmm", "okay", "got it", "all right"} {
		if _, cleared := det.OnFragment(cue); cleared {
			t.Errorf("backchannel %q triggered barge-in", cue)
		}
	}
}

func TestDetectorClearsOnRealInterruption(t *testing.T) {
	det, seq, line, marks := newTestDetector()
	seq.Enqueue(0, []byte("greeting"), true)
	seq.Enqueue(1, []byte("agent audio"), false)

	if marks.Len() == 0 {
		t.Fatal("setup: expected outstanding marks")
	}

	from, cleared := det.OnFragment("wait, actually I need something else")
	if !cleared {
		t.Fatal("real interruption not detected")
	}
	if from != 1 {
		t.Fatalf("cancelled from index %d, want 1", from)
	}
	line.mu.Lock()
	clears := line.clears
	line.mu.Unlock()
	if clears != 1 {
		t.Fatalf("line cleared %d times, want 1", clears)
	}
	if marks.Len() != 0 {
		t.Fatalf("outstanding marks after barge-in = %d, want 0", marks.Len())
	}

	// Audio for the cancelled index never plays afterwards.
	seq.Enqueue(1, []byte("tail"), true)
	for _, p := range line.playedStrings() {
		if p == "tail" {
			t.Fatal("cancelled index played after barge-in")
		}
	}
}

func TestDetectorThresholdCountsRunes(t *testing.T) {
	det, seq, _, _ := newTestDetector(WithBargeInThreshold(5))
	seq.Enqueue(1, []byte("agent"), false)

	// Four runes, below threshold even though it is many bytes.
	if _, cleared := det.OnFragment("日本語で"); cleared {
		t.Fatal("fragment below rune threshold triggered barge-in")
	}
	if _, cleared := det.OnFragment(strings.Repeat("話", 5)); !cleared {
		t.Fatal("fragment at rune threshold did not trigger barge-in")
	}
}
