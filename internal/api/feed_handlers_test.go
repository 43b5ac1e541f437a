package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"reelgate/internal/feed"
)

func openFeedSession(t *testing.T, env *testEnv, cookie *http.Cookie) feedSessionResponse {
	t.Helper()
	request := jsonRequest(t, http.MethodPost, "/api/feed/session", map[string]bool{"nsfw": false})
	request.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	env.handler.FeedSession(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("open feed session status = %d, want %d (%s)", recorder.Code, http.StatusOK, recorder.Body.String())
	}
	var response feedSessionResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode feed session response: %v", err)
	}
	if response.SessionID == "" {
		t.Fatal("feed session response has no session id")
	}
	return response
}

func TestFeedSessionRequiresIdentity(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.handler.FeedSession(recorder, jsonRequest(t, http.MethodPost, "/api/feed/session", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
}

func TestFeedSessionOpenAndClose(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := bootstrap(t, env)
	opened := openFeedSession(t, env, cookie)

	if got := env.recorder.FeedSessions(); got != 1 {
		t.Fatalf("feed session gauge = %d, want 1", got)
	}

	request := httptest.NewRequest(http.MethodDelete, "/api/feed/session?session_id="+opened.SessionID, nil)
	recorder := httptest.NewRecorder()
	env.handler.FeedSession(recorder, request)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("close status = %d, want %d", recorder.Code, http.StatusNoContent)
	}
	if got := env.recorder.FeedSessions(); got != 0 {
		t.Fatalf("feed session gauge after close = %d, want 0", got)
	}
}

func TestFeedSessionCloseUnknown(t *testing.T) {
	env := newTestEnv(t)
	request := httptest.NewRequest(http.MethodDelete, "/api/feed/session?session_id=missing", nil)
	recorder := httptest.NewRecorder()
	env.handler.FeedSession(recorder, request)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusNotFound)
	}
}

func TestFeedNextFillsQueue(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := bootstrap(t, env)
	opened := openFeedSession(t, env, cookie)

	request := jsonRequest(t, http.MethodPost, "/api/feed/next", map[string]any{
		"session_id":  opened.SessionID,
		"current_idx": 0,
	})
	recorder := httptest.NewRecorder()
	env.handler.FeedNext(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", recorder.Code, http.StatusOK, recorder.Body.String())
	}

	var snapshot feed.Snapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Posts) == 0 {
		t.Fatal("advance did not fill the queue")
	}
	if snapshot.QueueEnd {
		t.Fatal("queue reported end with more upstream content available")
	}
}

func TestFeedNextUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	request := jsonRequest(t, http.MethodPost, "/api/feed/next", map[string]any{
		"session_id":  "missing",
		"current_idx": 0,
	})
	recorder := httptest.NewRecorder()
	env.handler.FeedNext(recorder, request)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusNotFound)
	}
}

func TestFeedNextUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := bootstrap(t, env)
	opened := openFeedSession(t, env, cookie)

	env.ranking.fail = true
	request := jsonRequest(t, http.MethodPost, "/api/feed/next", map[string]any{
		"session_id":  opened.SessionID,
		"current_idx": 0,
	})
	recorder := httptest.NewRecorder()
	env.handler.FeedNext(recorder, request)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusBadGateway)
	}
}

func TestFeedSessionRecover(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := bootstrap(t, env)
	opened := openFeedSession(t, env, cookie)

	advance := jsonRequest(t, http.MethodPost, "/api/feed/next", map[string]any{
		"session_id":  opened.SessionID,
		"current_idx": 0,
	})
	advanceRecorder := httptest.NewRecorder()
	env.handler.FeedNext(advanceRecorder, advance)
	if advanceRecorder.Code != http.StatusOK {
		t.Fatalf("advance status = %d, want %d", advanceRecorder.Code, http.StatusOK)
	}

	recover := jsonRequest(t, http.MethodPost, "/api/feed/session", map[string]any{
		"session_id":  opened.SessionID,
		"current_idx": 5,
	})
	recover.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	env.handler.FeedSession(recorder, recover)
	if recorder.Code != http.StatusOK {
		t.Fatalf("recover status = %d, want %d (%s)", recorder.Code, http.StatusOK, recorder.Body.String())
	}
	var recovered feedSessionResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &recovered); err != nil {
		t.Fatalf("decode recover response: %v", err)
	}
	if recovered.SessionID != opened.SessionID {
		t.Fatalf("recover opened a new session %s, want %s", recovered.SessionID, opened.SessionID)
	}
	if recovered.Snapshot.CurrentIdx != 5 {
		t.Fatalf("recovered current_idx = %d, want 5", recovered.Snapshot.CurrentIdx)
	}
}

func TestFeedSessionRejectsPut(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.handler.FeedSession(recorder, httptest.NewRequest(http.MethodPut, "/api/feed/session", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusMethodNotAllowed)
	}
}
