package ranking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelgate/internal/canisters"
	"reelgate/internal/identity"
)

// HTTPSourceConfig holds the four endpoint variants. Personalized endpoints
// require a user canister for context; coldstart endpoints serve pre-ranked
// cache content.
type HTTPSourceConfig struct {
	CleanURL          string
	NSFWURL           string
	ColdstartCleanURL string
	ColdstartNSFWURL  string
	Client            *http.Client
}

type sourceVariant struct {
	coldstart bool
	nsfw      bool
}

// HTTPSource fetches candidates from the ML feed service over HTTP/JSON.
type HTTPSource struct {
	endpoints map[sourceVariant]string
	client    *http.Client
}

// NewHTTPSource validates the endpoint set and constructs a source.
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	endpoints := map[sourceVariant]string{
		{coldstart: false, nsfw: false}: strings.TrimSpace(cfg.CleanURL),
		{coldstart: false, nsfw: true}:  strings.TrimSpace(cfg.NSFWURL),
		{coldstart: true, nsfw: false}:  strings.TrimSpace(cfg.ColdstartCleanURL),
		{coldstart: true, nsfw: true}:   strings.TrimSpace(cfg.ColdstartNSFWURL),
	}
	for variant, endpoint := range endpoints {
		if endpoint == "" {
			return nil, fmt.Errorf("ranking endpoint missing (coldstart=%v nsfw=%v)", variant.coldstart, variant.nsfw)
		}
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{endpoints: endpoints, client: client}, nil
}

type fetchPayload struct {
	CanisterID    identity.Principal `json:"canister_id"`
	Start         uint64             `json:"start"`
	NumResults    int                `json:"num_results"`
	FilterResults []canisters.PostID `json:"filter_results"`
}

// Fetch requests one page of candidates from the variant matching the request.
func (s *HTTPSource) Fetch(ctx context.Context, req Request) (Result, error) {
	endpoint := s.endpoints[sourceVariant{coldstart: req.Coldstart, nsfw: req.NSFW}]
	payload, err := json.Marshal(fetchPayload{
		CanisterID:    req.UserCanister,
		Start:         req.Offset,
		NumResults:    req.Limit,
		FilterResults: req.Exclude,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode feed request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create feed request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return Result{}, fmt.Errorf("fetch feed candidates: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read feed response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		snippet := string(bytes.TrimSpace(body))
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return Result{}, fmt.Errorf("feed request failed (%d): %s", response.StatusCode, snippet)
	}
	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return Result{}, fmt.Errorf("decode feed response: %w", err)
	}
	return result, nil
}
