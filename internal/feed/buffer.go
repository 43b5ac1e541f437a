package feed

import (
	"container/heap"

	"reelgate/internal/canisters"
)

// bufferEntry tags a buffered post with the fetch cycle that produced it and
// its arrival position within that cycle.
type bufferEntry struct {
	post    canisters.PostDetails
	batch   uint64
	arrival int
}

// bufferHeap orders entries for draining: higher batch number first, and
// within a batch, earlier arrival first.
type bufferHeap []bufferEntry

func (h bufferHeap) Len() int { return len(h) }

func (h bufferHeap) Less(i, j int) bool {
	if h[i].batch != h[j].batch {
		return h[i].batch > h[j].batch
	}
	return h[i].arrival < h[j].arrival
}

func (h bufferHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *bufferHeap) Push(x any) { *h = append(*h, x.(bufferEntry)) }

func (h *bufferHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// PriorityBuffer holds fetched posts that did not fit near the playback
// position yet. Draining order is deterministic for a given fetch history:
// the most recently fetched batch drains first, in arrival order.
type PriorityBuffer struct {
	entries bufferHeap
}

// NewPriorityBuffer returns an empty buffer.
func NewPriorityBuffer() *PriorityBuffer {
	return &PriorityBuffer{}
}

// Push buffers a post under the given batch number and arrival index.
func (b *PriorityBuffer) Push(post canisters.PostDetails, batch uint64, arrival int) {
	heap.Push(&b.entries, bufferEntry{post: post, batch: batch, arrival: arrival})
}

// PopMax removes and returns the highest-priority post.
func (b *PriorityBuffer) PopMax() (canisters.PostDetails, bool) {
	if len(b.entries) == 0 {
		return canisters.PostDetails{}, false
	}
	entry := heap.Pop(&b.entries).(bufferEntry)
	return entry.post, true
}

// Len is the number of buffered posts.
func (b *PriorityBuffer) Len() int { return len(b.entries) }
