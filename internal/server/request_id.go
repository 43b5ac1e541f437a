package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"reelgate/internal/observability/logging"
)

const (
	requestIDHeader   = "X-Request-Id"
	feedSessionHeader = "X-Feed-Session-Id"
)

// requestIDMiddleware tags every request with an ID, echoes it back to the
// caller, and seeds the context with a logger carrying the ID. Clients that
// already hold a feed session may announce it so its ID rides along in logs.
func requestIDMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := logging.ContextWithRequestID(r.Context(), id)
		if feedSession := strings.TrimSpace(r.Header.Get(feedSessionHeader)); feedSession != "" {
			ctx = logging.ContextWithFeedSessionID(ctx, feedSession)
		}
		ctx = logging.ContextWithLogger(ctx, logging.WithContext(ctx, logger))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
