package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	dErrors "vehicleinfo/pkg/domain-errors"
	"vehicleinfo/pkg/platform/httputil"
	"vehicleinfo/pkg/requestcontext"
)

// PerClientIP rejects requests beyond the window's limit with 429. The client
// IP comes from the ClientMetadata middleware, which must run first.
func PerClientIP(limiter *SlidingWindow, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			if ip == "" {
				next.ServeHTTP(w, r)
				return
			}

			result := limiter.Allow(ip)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				if logger != nil {
					logger.WarnContext(ctx, "rate limit exceeded",
						"request_id", requestcontext.RequestID(ctx),
						"client_ip", ip,
						"retry_after_s", retryAfter,
					)
				}
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests from this client, retry later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RunSweeper periodically evicts idle clients until ctx is done.
func RunSweeper(ctx context.Context, limiter *SlidingWindow, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
