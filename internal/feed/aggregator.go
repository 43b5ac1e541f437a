package feed

import (
	"context"
	"log/slog"
	"sync"

	"reelgate/internal/canisters"
	"reelgate/internal/identity"
	"reelgate/internal/observability/metrics"
)

// Tunables are the aggregator's refill thresholds. The defaults reproduce
// long-standing production behavior; they are exposed as configuration
// rather than hard-coded because they are not known to be load-tested
// optimal values.
type Tunables struct {
	// DrainBatch caps how many buffered posts move into the queue per cycle.
	DrainBatch int
	// BufferLowWater triggers a backing fetch when the buffer falls below it.
	BufferLowWater int
	// DirectInsertLookahead routes fetched posts straight into the queue
	// while fewer than this many entries remain ahead of playback.
	DirectInsertLookahead int
	// TriggerThreshold starts a refill when playback comes within this many
	// entries of the queue end.
	TriggerThreshold int
	// GCTrailingWindow is how many entries behind playback survive GC.
	GCTrailingWindow int
	// MaxRenderSlots is the rendering window capacity.
	MaxRenderSlots int
}

// DefaultTunables returns the production thresholds.
func DefaultTunables() Tunables {
	return Tunables{
		DrainBatch:            10,
		BufferLowWater:        100,
		DirectInsertLookahead: 10,
		TriggerThreshold:      20,
		GCTrailingWindow:      6,
		MaxRenderSlots:        200,
	}
}

func (t Tunables) withDefaults() Tunables {
	defaults := DefaultTunables()
	if t.DrainBatch <= 0 {
		t.DrainBatch = defaults.DrainBatch
	}
	if t.BufferLowWater <= 0 {
		t.BufferLowWater = defaults.BufferLowWater
	}
	if t.DirectInsertLookahead <= 0 {
		t.DirectInsertLookahead = defaults.DirectInsertLookahead
	}
	if t.TriggerThreshold <= 0 {
		t.TriggerThreshold = defaults.TriggerThreshold
	}
	if t.GCTrailingWindow <= 0 {
		t.GCTrailingWindow = defaults.GCTrailingWindow
	}
	if t.MaxRenderSlots <= 0 {
		t.MaxRenderSlots = defaults.MaxRenderSlots
	}
	return t
}

// Session owns one viewer's feed state: the queue, its priority buffer, the
// backing-fetch cursor, and the batch counter that orders buffered drains.
// All state is guarded by one mutex; fetch cycles are strictly sequential
// per session (a cycle is skipped, not queued, while another is in flight).
type Session struct {
	id           string
	userCanister identity.Principal
	nsfw         bool

	fetcher  *Fetcher
	tunables Tunables
	logger   *slog.Logger
	metrics  *metrics.Recorder

	mu       sync.Mutex
	queue    *Queue
	buffer   *PriorityBuffer
	cursor   FetchCursor
	batchCnt uint64
	queueEnd bool
	pending  bool
}

// SessionConfig describes one viewing session.
type SessionConfig struct {
	ID           string
	UserCanister identity.Principal
	NSFW         bool
	Fetcher      *Fetcher
	Tunables     Tunables
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

// NewSession builds an empty feed session.
func NewSession(cfg SessionConfig) *Session {
	tunables := cfg.Tunables.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Session{
		id:           cfg.ID,
		userCanister: cfg.UserCanister,
		nsfw:         cfg.NSFW,
		fetcher:      cfg.Fetcher,
		tunables:     tunables,
		logger:       logger.With("feed_session", cfg.ID),
		metrics:      recorder,
		queue:        NewQueue(tunables.MaxRenderSlots),
		buffer:       NewPriorityBuffer(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot is the renderable view of a session.
type Snapshot struct {
	Posts      []canisters.PostDetails `json:"posts"`
	CurrentIdx int                     `json:"current_idx"`
	QueueEnd   bool                    `json:"queue_end"`
	Buffered   int                     `json:"buffered"`
}

// Snapshot returns the current rendering window and cursor state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Posts:      s.queue.Slots(),
		CurrentIdx: s.queue.CurrentIndex(),
		QueueEnd:   s.queueEnd,
		Buffered:   s.buffer.Len(),
	}
}

// Advance records a playback-position change and refills the queue when the
// position comes within the trigger threshold of the queue end.
func (s *Session) Advance(ctx context.Context, idx int) (Snapshot, error) {
	s.mu.Lock()
	s.queue.SetCurrentIndex(idx)
	needMore := !s.queueEnd && s.queue.Remaining() <= s.tunables.TriggerThreshold
	s.mu.Unlock()

	if needMore {
		if err := s.Refill(ctx); err != nil {
			return Snapshot{}, err
		}
	}
	return s.Snapshot(), nil
}

// Refill runs one fetch cycle: drain the priority buffer into the queue,
// then, if the buffer is running low, fetch a fresh batch from the hybrid
// source and merge it. A cycle already in flight makes this call a no-op.
func (s *Session) Refill(ctx context.Context) error {
	s.mu.Lock()
	if s.pending || s.queueEnd {
		s.mu.Unlock()
		return nil
	}
	s.pending = true
	s.drainLocked()
	if s.buffer.Len() >= s.tunables.BufferLowWater {
		s.pending = false
		s.mu.Unlock()
		return nil
	}
	cursor := s.cursor
	queued := s.queue.IDs()
	s.mu.Unlock()

	result, err := s.fetcher.FetchPostUIDsHybrid(ctx, &cursor, s.userCanister, s.nsfw, queued)
	s.metrics.ObserveFeedFetch(string(result.Source), err, len(result.Posts))

	s.mu.Lock()
	defer func() {
		s.pending = false
		s.mu.Unlock()
	}()
	if err != nil {
		return err
	}
	s.mergeLocked(result, cursor)
	return nil
}

// drainLocked moves up to DrainBatch buffered posts into the queue, highest
// batch first, earliest arrival first, skipping duplicates.
func (s *Session) drainLocked() {
	drained := 0
	for drained < s.tunables.DrainBatch {
		post, ok := s.buffer.PopMax()
		if !ok {
			return
		}
		if s.queue.Insert(post) {
			drained++
		}
	}
}

// mergeLocked folds one fetch result into the session. Posts land directly
// in the queue while playback is close to the queue end; the rest are
// buffered under the current batch number in arrival order. The batch
// counter advances exactly once per cycle.
func (s *Session) mergeLocked(result FetchResult, cursor FetchCursor) {
	for arrival, post := range result.Posts {
		if s.queue.Remaining() <= s.tunables.DirectInsertLookahead {
			s.queue.Insert(post)
		} else {
			s.buffer.Push(post, s.batchCnt, arrival)
		}
	}
	if result.Source != ResultPersonalized {
		cursor.SetLimit(fallbackPageSize)
		cursor.AdvanceAndSetLimit(fallbackPageSize)
	}
	s.cursor = cursor
	if result.End {
		s.queueEnd = true
	}
	s.batchCnt++
	s.logger.Debug("merged fetch batch",
		"source", string(result.Source), "posts", len(result.Posts),
		"queue", s.queue.Len(), "buffered", s.buffer.Len(), "end", s.queueEnd)
}

// Recover performs the hard-reload housekeeping: entries far behind the
// playback position are discarded, keeping a fixed trailing window, and the
// rendering slots are rebuilt from the retained queue.
func (s *Session) Recover(currentIdx int) Snapshot {
	s.mu.Lock()
	s.queue.SetCurrentIndex(currentIdx)
	dropped := s.queue.GC(s.tunables.GCTrailingWindow)
	snapshot := Snapshot{
		Posts:      s.queue.Slots(),
		CurrentIdx: s.queue.CurrentIndex(),
		QueueEnd:   s.queueEnd,
		Buffered:   s.buffer.Len(),
	}
	s.mu.Unlock()
	if dropped > 0 {
		s.logger.Debug("collected played-out queue entries", "dropped", dropped)
	}
	return snapshot
}
