package store

import (
	"context"
	"sync"
)

// Verify interface compliance at compile time.
var _ Recorder = (*MemoryRecorder)(nil)

// CallHistory is everything recorded for one call.
type CallHistory struct {
	Call        CallRecord
	Transcript  []TranscriptRecord
	Adaptations []AdaptationRecord
}

// MemoryRecorder keeps call records in memory. Suitable for development
// and tests.
type MemoryRecorder struct {
	mu    sync.RWMutex
	calls map[string]*CallHistory
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		calls: make(map[string]*CallHistory),
	}
}

// CallStarted implements Recorder.
func (m *MemoryRecorder) CallStarted(ctx context.Context, rec CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[rec.CallID] = &CallHistory{Call: rec}
	return nil
}

// Transcript implements Recorder.
func (m *MemoryRecorder) Transcript(ctx context.Context, rec TranscriptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history(rec.CallID)
	h.Transcript = append(h.Transcript, rec)
	return nil
}

// AdaptationChanged implements Recorder.
func (m *MemoryRecorder) AdaptationChanged(ctx context.Context, rec AdaptationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history(rec.CallID)
	h.Adaptations = append(h.Adaptations, rec)
	return nil
}

// CallEnded implements Recorder.
func (m *MemoryRecorder) CallEnded(ctx context.Context, rec CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history(rec.CallID)
	started := h.Call.StartedAt
	h.Call = rec
	if h.Call.StartedAt.IsZero() {
		h.Call.StartedAt = started
	}
	return nil
}

// Get returns the recorded history for a call.
func (m *MemoryRecorder) Get(callID string) (*CallHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *h
	return &out, nil
}

// Close implements Recorder.
func (m *MemoryRecorder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	return nil
}

// history returns the entry for callID, creating it if records arrive out
// of order.
func (m *MemoryRecorder) history(callID string) *CallHistory {
	h, ok := m.calls[callID]
	if !ok {
		h = &CallHistory{Call: CallRecord{CallID: callID}}
		m.calls[callID] = h
	}
	return h
}
