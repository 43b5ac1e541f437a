package ranking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"reelgate/internal/canisters"
)

func newVariantServer(t *testing.T, captured *fetchPayload, path *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if err := json.NewEncoder(w).Encode(Result{
			Posts: []Candidate{{CanisterID: "canister-1", PostID: 7}},
			End:   true,
		}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestFetchSendsCursorAndExclusions(t *testing.T) {
	var captured fetchPayload
	var path string
	server := newVariantServer(t, &captured, &path)
	defer server.Close()

	source, err := NewHTTPSource(HTTPSourceConfig{
		CleanURL:          server.URL + "/clean",
		NSFWURL:           server.URL + "/nsfw",
		ColdstartCleanURL: server.URL + "/coldstart-clean",
		ColdstartNSFWURL:  server.URL + "/coldstart-nsfw",
		Client:            server.Client(),
	})
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}

	result, err := source.Fetch(context.Background(), Request{
		UserCanister: "user-canister",
		Offset:       50,
		Limit:        30,
		Coldstart:    true,
		Exclude:      []canisters.PostID{{CanisterID: "canister-1", PostID: 3}},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if path != "/coldstart-clean" {
		t.Fatalf("path = %s, want /coldstart-clean", path)
	}
	if captured.Start != 50 {
		t.Fatalf("start = %d, want 50", captured.Start)
	}
	if captured.NumResults != 30 {
		t.Fatalf("num_results = %d, want 30", captured.NumResults)
	}
	if len(captured.FilterResults) != 1 || captured.FilterResults[0].PostID != 3 {
		t.Fatalf("filter_results = %v, want the queued post", captured.FilterResults)
	}
	if !result.End || len(result.Posts) != 1 {
		t.Fatalf("result = %+v, want one post and end", result)
	}
}

func TestFetchSelectsNSFWVariant(t *testing.T) {
	var captured fetchPayload
	var path string
	server := newVariantServer(t, &captured, &path)
	defer server.Close()

	source, err := NewHTTPSource(HTTPSourceConfig{
		CleanURL:          server.URL + "/clean",
		NSFWURL:           server.URL + "/nsfw",
		ColdstartCleanURL: server.URL + "/coldstart-clean",
		ColdstartNSFWURL:  server.URL + "/coldstart-nsfw",
		Client:            server.Client(),
	})
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}

	if _, err := source.Fetch(context.Background(), Request{UserCanister: "user-canister", Limit: 10, NSFW: true}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path != "/nsfw" {
		t.Fatalf("path = %s, want /nsfw", path)
	}
}

func TestFetchSurfacesUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ranker overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	source, err := NewHTTPSource(HTTPSourceConfig{
		CleanURL:          server.URL,
		NSFWURL:           server.URL,
		ColdstartCleanURL: server.URL,
		ColdstartNSFWURL:  server.URL,
		Client:            server.Client(),
	})
	if err != nil {
		t.Fatalf("NewHTTPSource: %v", err)
	}

	if _, err := source.Fetch(context.Background(), Request{UserCanister: "user-canister", Limit: 10}); err == nil {
		t.Fatal("5xx response must surface as an error")
	}
}
