// Package canisters exposes the contracts consumed from the external canister
// network: per-user profile and session lookups plus post detail hydration.
// The canisters themselves are opaque collaborators addressed by principal.
package canisters

import (
	"context"
	"errors"

	"reelgate/internal/identity"
)

// ErrNotFound reports that the addressed canister resource does not exist,
// e.g. a post deleted after it was ranked.
var ErrNotFound = errors.New("not found")

// SessionType classifies a user canister's session.
type SessionType string

const (
	SessionTypeAnonymous  SessionType = "AnonymousSession"
	SessionTypeRegistered SessionType = "RegisteredSession"
)

// ProfileDetails is the subset of a user profile needed for ownership checks.
type ProfileDetails struct {
	PrincipalID identity.Principal `json:"principal_id"`
	DisplayName string             `json:"display_name"`
	AvatarURL   string             `json:"avatar_url"`
}

// PostID identifies a post by its hosting canister and index. Feed
// deduplication is by exact PostID equality.
type PostID struct {
	CanisterID identity.Principal `json:"canister_id"`
	PostID     uint64             `json:"post_id"`
}

// PostDetails is a hydrated feed entry.
type PostDetails struct {
	CanisterID      identity.Principal `json:"canister_id"`
	PostID          uint64             `json:"post_id"`
	VideoUID        string             `json:"video_uid"`
	Description     string             `json:"description"`
	CreatedBy       identity.Principal `json:"created_by"`
	LikeCount       uint64             `json:"like_count"`
	ViewCount       uint64             `json:"view_count"`
	NSFWProbability float64            `json:"nsfw_probability"`
}

// ID returns the post's identity for queue membership checks.
func (p PostDetails) ID() PostID {
	return PostID{CanisterID: p.CanisterID, PostID: p.PostID}
}

// IsNSFW reports whether the hydrated probability crosses the display cutoff.
func (p PostDetails) IsNSFW() bool { return p.NSFWProbability > 0.5 }

// Client is the RPC surface consumed from the canister network.
type Client interface {
	// GetIndividualCanisterByUserPrincipal resolves the canister owned by a
	// user principal. The boolean reports whether a canister exists.
	GetIndividualCanisterByUserPrincipal(ctx context.Context, user identity.Principal) (identity.Principal, bool, error)
	// GetProfileDetails fetches the profile stored on a user canister.
	GetProfileDetails(ctx context.Context, canister identity.Principal) (ProfileDetails, error)
	// GetSessionType reports whether the canister's session is registered.
	GetSessionType(ctx context.Context, canister identity.Principal) (SessionType, error)
	// UpdateSessionType marks the canister's session, returning the previous value.
	UpdateSessionType(ctx context.Context, canister identity.Principal, session SessionType) (SessionType, error)
	// GetPostDetails hydrates one post, folding in the ranking source's NSFW
	// probability estimate.
	GetPostDetails(ctx context.Context, id PostID, nsfwProbability float64) (PostDetails, error)
}
