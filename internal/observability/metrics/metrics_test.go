package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveRequestNormalizesLabels(t *testing.T) {
	r := New()
	r.ObserveRequest("get", "/api/feed/next/", http.StatusOK, 25*time.Millisecond)
	r.ObserveRequest("GET", "/api/feed/next", http.StatusOK, 25*time.Millisecond)

	var out strings.Builder
	r.Write(&out)
	if !strings.Contains(out.String(), `reelgate_http_requests_total{method="GET",path="/api/feed/next",status="200"} 2`) {
		t.Fatalf("labels not merged:\n%s", out.String())
	}
}

func TestIdentityOpOutcomes(t *testing.T) {
	r := New()
	r.ObserveIdentityOp("bootstrap", nil)
	r.ObserveIdentityOp("bootstrap", nil)
	r.ObserveIdentityOp("Bootstrap", errors.New("kv down"))

	counts := r.IdentityOpCounts()
	if counts[IdentityOpLabel{Operation: "bootstrap", Outcome: "ok"}] != 2 {
		t.Fatalf("ok count = %d, want 2", counts[IdentityOpLabel{Operation: "bootstrap", Outcome: "ok"}])
	}
	if counts[IdentityOpLabel{Operation: "bootstrap", Outcome: "error"}] != 1 {
		t.Fatalf("error count = %d, want 1", counts[IdentityOpLabel{Operation: "bootstrap", Outcome: "error"}])
	}
}

func TestFeedFetchCountsAndServed(t *testing.T) {
	r := New()
	r.ObserveFeedFetch("coldstart", nil, 30)
	r.ObserveFeedFetch("personalized", errors.New("down"), 0)

	counts := r.FeedFetchCounts()
	if counts[FeedFetchLabel{Source: "coldstart", Outcome: "ok"}] != 1 {
		t.Fatal("coldstart fetch not counted")
	}
	if counts[FeedFetchLabel{Source: "personalized", Outcome: "error"}] != 1 {
		t.Fatal("personalized failure not counted")
	}

	var out strings.Builder
	r.Write(&out)
	if !strings.Contains(out.String(), `reelgate_feed_posts_served_total{source="coldstart"} 30`) {
		t.Fatalf("served posts missing:\n%s", out.String())
	}
}

func TestFeedSessionGaugeNeverNegative(t *testing.T) {
	r := New()
	r.FeedSessionClosed()
	if got := r.FeedSessions(); got != 0 {
		t.Fatalf("gauge = %d, want 0", got)
	}
	r.FeedSessionOpened()
	r.FeedSessionOpened()
	r.FeedSessionClosed()
	if got := r.FeedSessions(); got != 1 {
		t.Fatalf("gauge = %d, want 1", got)
	}
}

func TestKVHealthMapping(t *testing.T) {
	r := New()
	r.SetKVHealth("redis", "ok")
	r.SetKVHealth("postgres", "unreachable")

	var out strings.Builder
	r.Write(&out)
	text := out.String()
	if !strings.Contains(text, `reelgate_kv_health{backend="redis",status="ok"} 1.0`) {
		t.Fatalf("redis health missing:\n%s", text)
	}
	if !strings.Contains(text, `reelgate_kv_health{backend="postgres",status="unreachable"} -1.0`) {
		t.Fatalf("postgres health missing:\n%s", text)
	}
}

func TestHandlerServesPrometheusText(t *testing.T) {
	r := New()
	r.ObserveRequest(http.MethodPost, "/api/auth/anonymous", http.StatusOK, time.Millisecond)

	recorder := httptest.NewRecorder()
	r.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := recorder.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("content type = %q", got)
	}
	if !strings.Contains(recorder.Body.String(), "reelgate_http_requests_total") {
		t.Fatal("exposition missing request counter")
	}
}

func TestHTTPMiddlewareRecords(t *testing.T) {
	r := New()
	handler := HTTPMiddleware(r, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/feed/session", nil))

	var out strings.Builder
	r.Write(&out)
	if !strings.Contains(out.String(), `reelgate_http_requests_total{method="POST",path="/api/feed/session",status="201"} 1`) {
		t.Fatalf("request not recorded:\n%s", out.String())
	}
}
