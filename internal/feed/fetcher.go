package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"reelgate/internal/canisters"
	"reelgate/internal/identity"
	"reelgate/internal/ranking"
)

// ResultType tags which source actually served a fetch, for diagnostics.
type ResultType string

const (
	ResultPersonalized      ResultType = "personalized"
	ResultColdstart         ResultType = "coldstart"
	ResultColdstartFallback ResultType = "coldstart_fallback"
)

// Page-size rules for the hybrid source decision. A session that has seen
// fewer than coldstartThreshold posts lacks the context the personalized
// ranker needs, so it is served from the coldstart cache instead.
const (
	coldstartThreshold = 30
	coldstartPageSize  = 30
	fallbackPageSize   = 50
)

// defaultHydrationChunk bounds how many post-detail lookups run at once.
const defaultHydrationChunk = 3

// FetchResult is one completed fetch cycle: hydrated posts in ranking order,
// an end-of-content flag, and the source that served them.
type FetchResult struct {
	Posts  []canisters.PostDetails
	End    bool
	Source ResultType
}

// FetcherConfig wires the fetcher's collaborators.
type FetcherConfig struct {
	Source    ranking.Source
	Canisters canisters.Client
	// HostNSFW force-enables NSFW content regardless of the per-session
	// toggle, for hosts dedicated to mature content.
	HostNSFW bool
	// HydrationChunk bounds concurrent post-detail lookups; zero uses the
	// default.
	HydrationChunk int
	Logger         *slog.Logger
}

// Fetcher resolves feed candidates through the hybrid source decision and
// hydrates them into renderable post details.
type Fetcher struct {
	source         ranking.Source
	canisters      canisters.Client
	hostNSFW       bool
	hydrationChunk int
	logger         *slog.Logger
}

// NewFetcher validates the configuration and constructs a Fetcher.
func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("ranking source is required")
	}
	if cfg.Canisters == nil {
		return nil, fmt.Errorf("canister client is required")
	}
	chunk := cfg.HydrationChunk
	if chunk <= 0 {
		chunk = defaultHydrationChunk
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		source:         cfg.Source,
		canisters:      cfg.Canisters,
		hostNSFW:       cfg.HostNSFW,
		hydrationChunk: chunk,
		logger:         logger,
	}, nil
}

// FetchPostUIDsHybrid runs one fetch cycle for the session. Sessions that
// have queued fewer than 30 posts are served a 30-post coldstart page; more
// mature sessions go to the personalized ranker, and a personalized failure
// falls back silently to a 50-post coldstart page. Only a failure of both
// sources surfaces as an error.
func (f *Fetcher) FetchPostUIDsHybrid(ctx context.Context, cursor *FetchCursor, userCanister identity.Principal, allowNSFW bool, queued []canisters.PostID) (FetchResult, error) {
	nsfw := allowNSFW || f.hostNSFW

	if len(queued) < coldstartThreshold {
		cursor.SetLimit(coldstartPageSize)
		result, err := f.fetch(ctx, cursor, userCanister, nsfw, true, queued)
		if err != nil {
			return FetchResult{}, err
		}
		result.Source = ResultColdstart
		return result, nil
	}

	result, err := f.fetch(ctx, cursor, userCanister, nsfw, false, queued)
	if err == nil {
		result.Source = ResultPersonalized
		return result, nil
	}
	f.logger.Warn("personalized fetch failed, falling back to coldstart",
		"user_canister", userCanister.String(), "error", err)

	cursor.SetLimit(fallbackPageSize)
	result, fallbackErr := f.fetch(ctx, cursor, userCanister, nsfw, true, queued)
	if fallbackErr != nil {
		return FetchResult{}, fmt.Errorf("both feed sources failed: personalized: %v; coldstart: %w", err, fallbackErr)
	}
	result.Source = ResultColdstartFallback
	return result, nil
}

func (f *Fetcher) fetch(ctx context.Context, cursor *FetchCursor, userCanister identity.Principal, nsfw, coldstart bool, queued []canisters.PostID) (FetchResult, error) {
	page, err := f.source.Fetch(ctx, ranking.Request{
		UserCanister: userCanister,
		Offset:       cursor.Start,
		Limit:        int(cursor.Limit),
		NSFW:         nsfw,
		Coldstart:    coldstart,
		Exclude:      queued,
	})
	if err != nil {
		return FetchResult{}, err
	}
	posts, err := f.hydrate(ctx, page.Posts)
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{Posts: posts, End: page.End}, nil
}

// hydrate resolves candidates to full post details, a bounded number at a
// time, preserving ranking order. Posts deleted since ranking are dropped.
func (f *Fetcher) hydrate(ctx context.Context, candidates []ranking.Candidate) ([]canisters.PostDetails, error) {
	hydrated := make([]*canisters.PostDetails, len(candidates))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.hydrationChunk)
	for i, candidate := range candidates {
		group.Go(func() error {
			details, err := f.canisters.GetPostDetails(groupCtx, candidate.ID(), candidate.NSFWProbability)
			if errors.Is(err, canisters.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("hydrate post %s/%d: %w", candidate.CanisterID, candidate.PostID, err)
			}
			hydrated[i] = &details
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	posts := make([]canisters.PostDetails, 0, len(candidates))
	for _, details := range hydrated {
		if details != nil {
			posts = append(posts, *details)
		}
	}
	return posts, nil
}
