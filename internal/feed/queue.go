package feed

import "reelgate/internal/canisters"

// Queue is the per-session ordered set of posts plus its parallel rendering
// window. Posts are unique by (canister, post id); insertion order is
// preserved. The rendering window is a fixed-capacity prefix view: once it
// fills, further inserts still join the queue but are silently dropped from
// the window.
type Queue struct {
	posts      []canisters.PostDetails
	seen       map[canisters.PostID]struct{}
	slots      []canisters.PostDetails
	maxSlots   int
	currentIdx int
}

// NewQueue builds an empty queue with the given rendering-window capacity.
func NewQueue(maxSlots int) *Queue {
	return &Queue{
		seen:     make(map[canisters.PostID]struct{}),
		maxSlots: maxSlots,
	}
}

// Insert appends the post if it is not already queued. It reports whether
// the post was actually added.
func (q *Queue) Insert(post canisters.PostDetails) bool {
	id := post.ID()
	if _, dup := q.seen[id]; dup {
		return false
	}
	q.seen[id] = struct{}{}
	q.posts = append(q.posts, post)
	if len(q.slots) < q.maxSlots {
		q.slots = append(q.slots, post)
	}
	return true
}

// Contains reports queue membership by post identity.
func (q *Queue) Contains(id canisters.PostID) bool {
	_, ok := q.seen[id]
	return ok
}

// Len is the number of queued posts.
func (q *Queue) Len() int { return len(q.posts) }

// Remaining is the number of queued posts at or past the playback position.
func (q *Queue) Remaining() int {
	if q.currentIdx >= len(q.posts) {
		return 0
	}
	return len(q.posts) - q.currentIdx
}

// CurrentIndex is the playback position within the queue.
func (q *Queue) CurrentIndex() int { return q.currentIdx }

// SetCurrentIndex moves the playback position. Positions past the end clamp
// to the last entry.
func (q *Queue) SetCurrentIndex(idx int) {
	if idx < 0 {
		idx = 0
	}
	if last := len(q.posts) - 1; last >= 0 && idx > last {
		idx = last
	}
	q.currentIdx = idx
}

// Slots returns the rendering window contents.
func (q *Queue) Slots() []canisters.PostDetails {
	out := make([]canisters.PostDetails, len(q.slots))
	copy(out, q.slots)
	return out
}

// Posts returns the full queue contents in insertion order.
func (q *Queue) Posts() []canisters.PostDetails {
	out := make([]canisters.PostDetails, len(q.posts))
	copy(out, q.posts)
	return out
}

// IDs returns the identities of every queued post, for fetch deduplication.
func (q *Queue) IDs() []canisters.PostID {
	out := make([]canisters.PostID, 0, len(q.posts))
	for _, post := range q.posts {
		out = append(out, post.ID())
	}
	return out
}

// GC discards entries more than window positions behind the playback index,
// shifting the index accordingly and rebuilding the rendering window from
// the retained posts. The queue container has no automatic eviction; this is
// the only thing bounding its memory.
func (q *Queue) GC(window int) int {
	drop := q.currentIdx - window
	if drop <= 0 {
		return 0
	}
	for _, post := range q.posts[:drop] {
		delete(q.seen, post.ID())
	}
	q.posts = append(q.posts[:0], q.posts[drop:]...)
	q.currentIdx -= drop
	q.slots = q.slots[:0]
	for _, post := range q.posts {
		if len(q.slots) >= q.maxSlots {
			break
		}
		q.slots = append(q.slots, post)
	}
	return drop
}
