package directory

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

// isTransient reports whether err is worth retrying: rate limiting and
// server-side 5xx responses, plus the quota phrasings the API returns with a
// 403 status.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 429, 500, 502, 503, 504:
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "rateLimitExceeded") ||
		strings.Contains(msg, "userRateLimitExceeded")
}

// isNotFound reports whether err is an HTTP 404.
func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}

// backoffDelay computes the sleep before retry attempt (0-based):
// min(32, 2^attempt) seconds plus up to one second of jitter.
func backoffDelay(attempt int) time.Duration {
	secs := int64(1) << uint(attempt)
	if secs > 32 || attempt >= 6 {
		secs = 32
	}
	return time.Duration(secs)*time.Second + time.Duration(rand.Int63n(int64(time.Second)))
}

// sleepCtx sleeps for d, returning early with the context error on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
