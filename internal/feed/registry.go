package feed

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelgate/internal/identity"
	"reelgate/internal/observability/metrics"
)

// ErrSessionNotFound is returned when a feed session id is unknown, e.g.
// after an idle eviction.
var ErrSessionNotFound = fmt.Errorf("feed session not found")

// Registry owns the live feed sessions, keyed by opaque session id. Each
// session belongs to exactly one viewer; the registry itself is the only
// state shared across viewers.
type Registry struct {
	fetcher  *Fetcher
	tunables Tunables
	logger   *slog.Logger
	metrics  *metrics.Recorder
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*registryEntry
}

type registryEntry struct {
	session  *Session
	lastSeen time.Time
}

// RegistryConfig wires the registry's collaborators.
type RegistryConfig struct {
	Fetcher  *Fetcher
	Tunables Tunables
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// NewRegistry constructs an empty session registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Registry{
		fetcher:  cfg.Fetcher,
		tunables: cfg.Tunables.withDefaults(),
		logger:   logger,
		metrics:  recorder,
		now:      time.Now,
		sessions: make(map[string]*registryEntry),
	}, nil
}

// Create opens a new feed session for a viewer.
func (r *Registry) Create(userCanister identity.Principal, nsfw bool) *Session {
	session := NewSession(SessionConfig{
		ID:           uuid.NewString(),
		UserCanister: userCanister,
		NSFW:         nsfw,
		Fetcher:      r.fetcher,
		Tunables:     r.tunables,
		Logger:       r.logger,
		Metrics:      r.metrics,
	})
	r.mu.Lock()
	r.sessions[session.ID()] = &registryEntry{session: session, lastSeen: r.now()}
	r.mu.Unlock()
	return session
}

// Get resolves a session id, refreshing its idle timer.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	entry.lastSeen = r.now()
	return entry.session, nil
}

// Delete discards a session.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports how many sessions are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Prune drops sessions idle for longer than maxIdle and reports how many
// were removed.
func (r *Registry) Prune(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for id, entry := range r.sessions {
		if entry.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			pruned++
		}
	}
	if pruned > 0 {
		r.logger.Debug("pruned idle feed sessions", "count", pruned, "remaining", len(r.sessions))
	}
	return pruned
}
