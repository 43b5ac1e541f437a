package api

import (
	"errors"
	"fmt"
	"net/http"

	"reelgate/internal/session"
)

func errMethodNotAllowed(method string) error {
	return fmt.Errorf("method %s not allowed", method)
}

// AnonymousIdentity bootstraps a first-time visitor. A request that already
// carries a refresh cookie is a no-op returning 204; otherwise the fresh
// delegated identity and its refresh token are returned and the cookie is
// installed in the same response.
func (h *Handler) AnonymousIdentity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}

	anonymous, err := h.sessions.GenerateAnonymousIdentityIfRequired(r.Context(), r)
	h.metrics.ObserveIdentityOp("bootstrap", err)
	if err != nil {
		h.requestLogger(r).Error("anonymous bootstrap failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if anonymous == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.sessions.SetAnonymousIdentityCookie(r.Context(), w, r, anonymous.RefreshToken); err != nil {
		h.requestLogger(r).Error("install refresh cookie failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, anonymous)
}

// SetCookie installs a refresh token as the session cookie. An empty token
// triggers the one-time legacy-to-OAuth migration when the issuer is
// configured.
func (h *Handler) SetCookie(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}

	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err := h.sessions.SetAnonymousIdentityCookie(r.Context(), w, r, payload.RefreshToken)
	h.metrics.ObserveIdentityOp("set_cookie", err)
	if err != nil {
		if errors.Is(err, session.ErrPrincipalMismatch) {
			h.requestLogger(r).Error("migration rejected", "error", err)
			writeError(w, http.StatusForbidden, err)
			return
		}
		h.requestLogger(r).Error("set cookie failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Identity resolves the request's session to a delegated identity wire.
// A request with no session yields 404 so the client falls back to the
// anonymous bootstrap.
func (h *Handler) Identity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}

	wire, err := h.sessions.ExtractIdentity(r.Context(), r)
	h.metrics.ObserveIdentityOp("extract", err)
	if err != nil {
		h.requestLogger(r).Error("identity extraction failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if wire == nil {
		writeError(w, http.StatusNotFound, errors.New("no session"))
		return
	}
	writeJSON(w, http.StatusOK, wire)
}

// Logout discards the current session by minting a brand-new anonymous
// identity and returning its delegation. The old principal's key stays in
// the KV store.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}

	wire, err := h.sessions.LogoutIdentity(r.Context(), w)
	h.metrics.ObserveIdentityOp("logout", err)
	if err != nil {
		h.requestLogger(r).Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, wire)
}

// DelegateShortLived issues a 24-hour delegation from the current session
// for signing a single operation. Nothing is persisted.
func (h *Handler) DelegateShortLived(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}

	wire, err := h.sessions.DelegateShortLived(r.Context(), r)
	h.metrics.ObserveIdentityOp("delegate_short_lived", err)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		h.requestLogger(r).Error("short-lived delegation failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, wire)
}

// OAuthBegin starts the authorization-code handshake and returns the issuer
// URL the client should redirect to.
func (h *Handler) OAuthBegin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	if !h.sessions.OAuthEnabled() {
		writeError(w, http.StatusNotImplemented, errors.New("oauth is not configured"))
		return
	}

	var payload struct {
		LoginHint    string `json:"login_hint"`
		ProviderHint string `json:"provider_hint"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	redirect, err := h.sessions.BeginOAuthLogin(w, payload.LoginHint, payload.ProviderHint)
	h.metrics.ObserveIdentityOp("oauth_begin", err)
	if err != nil {
		h.requestLogger(r).Error("oauth begin failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorize_url": redirect})
}

// OAuthComplete redeems the redirect's code, installs the issuer refresh
// token as the session cookie, and returns the logged-in identity.
func (h *Handler) OAuthComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed(r.Method))
		return
	}
	if !h.sessions.OAuthEnabled() {
		writeError(w, http.StatusNotImplemented, errors.New("oauth is not configured"))
		return
	}

	var payload struct {
		State string `json:"state"`
		Code  string `json:"code"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Code == "" {
		writeError(w, http.StatusBadRequest, errors.New("authorization code is required"))
		return
	}

	wire, err := h.sessions.CompleteOAuthLogin(r.Context(), w, r, payload.State, payload.Code)
	h.metrics.ObserveIdentityOp("oauth_complete", err)
	if err != nil {
		if errors.Is(err, session.ErrLoginStateMismatch) {
			writeError(w, http.StatusForbidden, err)
			return
		}
		h.requestLogger(r).Error("oauth completion failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, wire)
}
