// Package ranking exposes the feed candidate sources: a personalized ML
// ranking endpoint and a cached coldstart endpoint, each in clean and NSFW
// variants.
package ranking

import (
	"context"

	"reelgate/internal/canisters"
	"reelgate/internal/identity"
)

// Candidate is an unhydrated feed entry returned by a ranking source.
type Candidate struct {
	CanisterID      identity.Principal `json:"canister_id"`
	PostID          uint64             `json:"post_id"`
	NSFWProbability float64            `json:"nsfw_probability"`
}

// ID returns the candidate's post identity.
func (c Candidate) ID() canisters.PostID {
	return canisters.PostID{CanisterID: c.CanisterID, PostID: c.PostID}
}

// Request describes one candidate fetch. Offset is how many posts the
// session has already consumed from this source; coldstart pages use it to
// continue past earlier pages. Exclude carries the caller's current queue
// contents so the source does not re-serve them; it is used purely for
// deduplication and never persisted.
type Request struct {
	UserCanister identity.Principal
	Offset       uint64
	Limit        int
	NSFW         bool
	Coldstart    bool
	Exclude      []canisters.PostID
}

// Result is a finite page of ranked candidates. End reports that the source
// has no further content for this session.
type Result struct {
	Posts []Candidate `json:"posts"`
	End   bool        `json:"end"`
}

// Source serves ranked feed candidates.
type Source interface {
	Fetch(ctx context.Context, req Request) (Result, error)
}
