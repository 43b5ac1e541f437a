// Package feed keeps a bounded, duplicate-free, continuously-refillable
// queue of ranked video posts per viewing session. Candidates arrive from a
// coldstart cache or a personalized ranking source, drain through a
// max-priority buffer into a fixed-capacity rendering window, and are
// garbage-collected behind the playback position.
package feed

// FetchCursor tracks the offset and page size of the next backing fetch.
type FetchCursor struct {
	Start uint64
	Limit uint64
}

// SetLimit changes the page size for the next fetch without advancing.
func (c *FetchCursor) SetLimit(limit uint64) {
	c.Limit = limit
}

// Advance moves the cursor past the page it just consumed.
func (c *FetchCursor) Advance() {
	c.Start += c.Limit
}

// AdvanceAndSetLimit moves past the consumed page and sets the next size.
func (c *FetchCursor) AdvanceAndSetLimit(limit uint64) {
	c.Start += c.Limit
	c.Limit = limit
}
