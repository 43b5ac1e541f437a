package api

import (
	"errors"
	"net/http"

	"reelgate/internal/feed"
	"reelgate/internal/identity"
)

// FeedSession opens or tears down a feed session. POST creates one for the
// authenticated viewer and returns its first snapshot; DELETE discards one.
// A POST carrying a current_idx recovers a session after a client reload,
// rebuilding the trailing window around the viewer's position.
func (h *Handler) FeedSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.openFeedSession(w, r)
	case http.MethodDelete:
		h.closeFeedSession(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
	}
}

func (h *Handler) openFeedSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		NSFW       bool   `json:"nsfw"`
		SessionID  string `json:"session_id"`
		CurrentIdx *int   `json:"current_idx"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if payload.SessionID != "" && payload.CurrentIdx != nil {
		session, err := h.feeds.Get(payload.SessionID)
		if err == nil {
			snapshot := session.Recover(*payload.CurrentIdx)
			writeJSON(w, http.StatusOK, feedSessionResponse{SessionID: session.ID(), Snapshot: snapshot})
			return
		}
		// Session was pruned; fall through and open a fresh one.
	}

	wire, err := h.sessions.ExtractIdentity(r.Context(), r)
	if err != nil {
		h.requestLogger(r).Error("feed session identity lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if wire == nil {
		writeError(w, http.StatusUnauthorized, errors.New("no session"))
		return
	}
	principal, err := wire.Principal()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var userCanister identity.Principal
	canister, ok, err := h.sessions.ResolveUserCanister(r.Context(), principal)
	if err != nil {
		h.requestLogger(r).Warn("user canister lookup failed, serving cold start only", "error", err)
	} else if ok {
		userCanister = canister
	}

	session := h.feeds.Create(userCanister, payload.NSFW)
	h.metrics.FeedSessionOpened()
	h.requestLogger(r).Info("feed session opened",
		"feed_session_id", session.ID(),
		"nsfw", payload.NSFW,
		"personalized", userCanister != "",
	)
	writeJSON(w, http.StatusOK, feedSessionResponse{SessionID: session.ID(), Snapshot: session.Snapshot()})
}

func (h *Handler) closeFeedSession(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("session_id is required"))
		return
	}
	if _, err := h.feeds.Get(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	h.feeds.Delete(id)
	h.metrics.FeedSessionClosed()
	w.WriteHeader(http.StatusNoContent)
}

type feedSessionResponse struct {
	SessionID string        `json:"session_id"`
	Snapshot  feed.Snapshot `json:"snapshot"`
}

// FeedNext reports the viewer's position and returns the next snapshot,
// refilling the queue from upstream when the lookahead runs low.
func (h *Handler) FeedNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}

	var payload struct {
		SessionID  string `json:"session_id"`
		CurrentIdx int    `json:"current_idx"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.SessionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("session_id is required"))
		return
	}

	session, err := h.feeds.Get(payload.SessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	snapshot, err := session.Advance(r.Context(), payload.CurrentIdx)
	if err != nil {
		h.requestLogger(r).Error("feed advance failed",
			"feed_session_id", payload.SessionID,
			"current_idx", payload.CurrentIdx,
			"error", err,
		)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
