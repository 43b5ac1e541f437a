package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// IdentityOpLabel identifies an identity-manager operation and its outcome.
type IdentityOpLabel struct {
	Operation string
	Outcome   string
}

// FeedFetchLabel identifies a feed fetch by the source that served it and
// its outcome.
type FeedFetchLabel struct {
	Source  string
	Outcome string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// identity-manager operations, feed fetch cycles, and KV backend health. It
// coordinates concurrent writers via a RWMutex while exposing a thread-safe
// gauge for live feed sessions.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	identityOps     map[IdentityOpLabel]uint64
	feedFetches     map[FeedFetchLabel]uint64
	feedPostsServed map[string]uint64
	kvHealthValue   map[string]float64
	kvHealthState   map[string]string
	feedSessions    atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		identityOps:     make(map[IdentityOpLabel]uint64),
		feedFetches:     make(map[FeedFetchLabel]uint64),
		feedPostsServed: make(map[string]uint64),
		kvHealthValue:   make(map[string]float64),
		kvHealthState:   make(map[string]string),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveIdentityOp records an identity-manager operation (e.g. "bootstrap",
// "extract", "logout", "migrate") with its outcome ("ok" or "error").
func (r *Recorder) ObserveIdentityOp(operation string, err error) {
	label := IdentityOpLabel{
		Operation: normalizeName(operation),
		Outcome:   outcome(err),
	}
	r.mu.Lock()
	r.identityOps[label]++
	r.mu.Unlock()
}

// ObserveFeedFetch records one completed fetch cycle by serving source
// ("coldstart", "personalized", "coldstart_fallback") and outcome, along with
// how many posts it produced.
func (r *Recorder) ObserveFeedFetch(source string, err error, posts int) {
	label := FeedFetchLabel{
		Source:  normalizeName(source),
		Outcome: outcome(err),
	}
	r.mu.Lock()
	r.feedFetches[label]++
	if err == nil && posts > 0 {
		r.feedPostsServed[label.Source] += uint64(posts)
	}
	r.mu.Unlock()
}

// FeedSessionOpened increments the live feed session gauge.
func (r *Recorder) FeedSessionOpened() {
	r.feedSessions.Add(1)
}

// FeedSessionClosed decrements the live feed session gauge, guarding against
// negative counts when concurrent updates race.
func (r *Recorder) FeedSessionClosed() {
	for {
		current := r.feedSessions.Load()
		if current <= 0 {
			return
		}
		if r.feedSessions.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// FeedSessions exposes the current gauge of live feed sessions.
func (r *Recorder) FeedSessions() int64 {
	return r.feedSessions.Load()
}

// SetKVHealth normalizes the KV backend identifier, maps status strings to
// numeric health values, and stores both representations for export.
func (r *Recorder) SetKVHealth(backend, status string) {
	normalizedBackend := strings.ToLower(strings.TrimSpace(backend))
	if normalizedBackend == "" {
		normalizedBackend = "unknown"
	}
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := 0.0
	switch normalizedStatus {
	case "ok", "healthy":
		value = 1
	case "disabled":
		value = 0
	default:
		value = -1
	}
	r.mu.Lock()
	r.kvHealthValue[normalizedBackend] = value
	r.kvHealthState[normalizedBackend] = normalizedStatus
	r.mu.Unlock()
}

// IdentityOpCounts returns a copy of the identity operation counters for
// testing and reporting purposes.
func (r *Recorder) IdentityOpCounts() map[IdentityOpLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[IdentityOpLabel]uint64, len(r.identityOps))
	for k, v := range r.identityOps {
		counts[k] = v
	}
	return counts
}

// FeedFetchCounts returns a copy of the feed fetch counters.
func (r *Recorder) FeedFetchCounts() map[FeedFetchLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[FeedFetchLabel]uint64, len(r.feedFetches))
	for k, v := range r.feedFetches {
		counts[k] = v
	}
	return counts
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.identityOps = make(map[IdentityOpLabel]uint64)
	r.feedFetches = make(map[FeedFetchLabel]uint64)
	r.feedPostsServed = make(map[string]uint64)
	r.kvHealthValue = make(map[string]float64)
	r.kvHealthState = make(map[string]string)
	r.feedSessions.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	identityLabels := r.sortedIdentityOpLabels()
	fetchLabels := r.sortedFeedFetchLabels()
	servedSources := r.sortedFeedServedSources()
	kvBackends := r.sortedKVBackends()

	fmt.Fprintln(w, "# HELP reelgate_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE reelgate_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "reelgate_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP reelgate_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE reelgate_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "reelgate_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP reelgate_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE reelgate_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "reelgate_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP reelgate_identity_operations_total Identity manager operations by type and outcome")
	fmt.Fprintln(w, "# TYPE reelgate_identity_operations_total counter")
	for _, label := range identityLabels {
		count := r.identityOps[label]
		fmt.Fprintf(w, "reelgate_identity_operations_total{operation=\"%s\",outcome=\"%s\"} %d\n", label.Operation, label.Outcome, count)
	}

	fmt.Fprintln(w, "# HELP reelgate_feed_fetches_total Feed fetch cycles by serving source and outcome")
	fmt.Fprintln(w, "# TYPE reelgate_feed_fetches_total counter")
	for _, label := range fetchLabels {
		count := r.feedFetches[label]
		fmt.Fprintf(w, "reelgate_feed_fetches_total{source=\"%s\",outcome=\"%s\"} %d\n", label.Source, label.Outcome, count)
	}

	fmt.Fprintln(w, "# HELP reelgate_feed_posts_served_total Hydrated posts delivered to sessions by serving source")
	fmt.Fprintln(w, "# TYPE reelgate_feed_posts_served_total counter")
	for _, source := range servedSources {
		count := r.feedPostsServed[source]
		fmt.Fprintf(w, "reelgate_feed_posts_served_total{source=\"%s\"} %d\n", source, count)
	}

	fmt.Fprintln(w, "# HELP reelgate_feed_sessions Current number of live feed sessions")
	fmt.Fprintln(w, "# TYPE reelgate_feed_sessions gauge")
	fmt.Fprintf(w, "reelgate_feed_sessions %d\n", r.feedSessions.Load())

	fmt.Fprintln(w, "# HELP reelgate_kv_health Health status reported by the KV backend (1=ok,0=disabled,-1=degraded)")
	fmt.Fprintln(w, "# TYPE reelgate_kv_health gauge")
	for _, backend := range kvBackends {
		value := r.kvHealthValue[backend]
		status := r.kvHealthState[backend]
		fmt.Fprintf(w, "reelgate_kv_health{backend=\"%s\",status=\"%s\"} %f\n", backend, status, value)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedIdentityOpLabels() []IdentityOpLabel {
	labels := make([]IdentityOpLabel, 0, len(r.identityOps))
	for label := range r.identityOps {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Operation != labels[j].Operation {
			return labels[i].Operation < labels[j].Operation
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func (r *Recorder) sortedFeedFetchLabels() []FeedFetchLabel {
	labels := make([]FeedFetchLabel, 0, len(r.feedFetches))
	for label := range r.feedFetches {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Source != labels[j].Source {
			return labels[i].Source < labels[j].Source
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func (r *Recorder) sortedFeedServedSources() []string {
	sources := make([]string, 0, len(r.feedPostsServed))
	for source := range r.feedPostsServed {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources
}

func (r *Recorder) sortedKVBackends() []string {
	backends := make([]string, 0, len(r.kvHealthValue))
	for backend := range r.kvHealthValue {
		backends = append(backends, backend)
	}
	sort.Strings(backends)
	return backends
}

func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	if len(trimmed) > 1 {
		trimmed = strings.TrimRight(trimmed, "/")
		if trimmed == "" {
			trimmed = "/"
		}
	}
	return trimmed
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
