package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProvisionTTL is how long a provisioned configuration waits for its
// media stream before it becomes eligible for eviction.
const DefaultProvisionTTL = 5 * time.Minute

type registryEntry struct {
	cfg         Config
	provisioned time.Time
	manager     *Manager
}

// Registry maps call identifiers to per-call configuration provisioned
// before the media stream connects, and to the live session once one
// attaches. Entries that never see their stream are evicted after a TTL;
// attached entries live until their session unregisters itself.
type Registry struct {
	log   *slog.Logger
	clock func() time.Time
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = log
	}
}

// WithRegistryClock overrides the time source, for tests.
func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithProvisionTTL overrides how long unattached entries are kept.
func WithProvisionTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewRegistry creates an empty session registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:     slog.Default(),
		clock:   time.Now,
		ttl:     DefaultProvisionTTL,
		entries: make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Provision stores configuration for an expected call. A later Provision
// for the same call replaces the earlier one if no session has attached
// yet.
func (r *Registry) Provision(callID string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[callID]; ok && e.manager != nil {
		r.log.Warn("ignoring provision for live call", "call", callID)
		return
	}
	r.entries[callID] = &registryEntry{
		cfg:         cfg,
		provisioned: r.clock(),
	}
}

// Lookup returns the provisioned configuration for a call.
func (r *Registry) Lookup(callID string) (Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[callID]
	if !ok {
		return Config{}, false
	}
	return e.cfg, true
}

// Attach binds a live session to its registry entry, creating the entry if
// the call was never provisioned. It returns an unregister callback that
// removes the entry; calling it more than once is harmless.
func (r *Registry) Attach(callID string, mgr *Manager) func() {
	r.mu.Lock()
	e, ok := r.entries[callID]
	if !ok {
		e = &registryEntry{provisioned: r.clock()}
		r.entries[callID] = e
	}
	e.manager = mgr
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if cur, ok := r.entries[callID]; ok && cur == e {
				delete(r.entries, callID)
			}
			r.mu.Unlock()
		})
	}
}

// Session returns the live session for a call, if one is attached.
func (r *Registry) Session(callID string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[callID]
	if !ok || e.manager == nil {
		return nil, false
	}
	return e.manager, true
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// EvictStale removes entries that were provisioned longer than the TTL ago
// and never saw their media stream. Attached entries are never evicted.
// Returns how many entries were removed.
func (r *Registry) EvictStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock().Add(-r.ttl)
	evicted := 0
	for callID, e := range r.entries {
		if e.manager == nil && e.provisioned.Before(cutoff) {
			delete(r.entries, callID)
			evicted++
		}
	}
	if evicted > 0 {
		r.log.Info("evicted stale provisions", "count", evicted)
	}
	return evicted
}

// Janitor evicts stale entries on the given interval until the context is
// cancelled.
func (r *Registry) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictStale()
		}
	}
}
