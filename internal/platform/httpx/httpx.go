// Package httpx holds the retry policy shared by outbound HTTP callers,
// primarily the OpenAI client behind the extraction and repair oracles.
package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPStatusCoder is implemented by errors that carry the upstream
// status code, so transport failures and API failures share one
// retry decision.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// IsRetryableHTTPStatus reports whether a status is worth another
// attempt: request timeout, rate limiting, or any server error.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code <= 599
}

// IsRetryableError classifies an outbound call failure. Context
// expiry counts as retryable so the caller's own deadline check
// decides whether the loop actually continues.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var coder HTTPStatusCoder
	if errors.As(err, &coder) {
		return IsRetryableHTTPStatus(coder.HTTPStatusCode())
	}
	return false
}

// RetryAfterDuration picks the next backoff: the server's Retry-After
// header (seconds form) when present, otherwise fallback, capped at max.
func RetryAfterDuration(resp *http.Response, fallback, max time.Duration) time.Duration {
	wait := fallback
	if resp != nil {
		header := strings.TrimSpace(resp.Header.Get("Retry-After"))
		if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	if max > 0 && wait > max {
		wait = max
	}
	return wait
}

// JitterSleep spreads a backoff over +-20% of base so retries from
// concurrent ingestion runs do not land on the upstream in lockstep.
func JitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	low := base.Seconds() * 0.8
	high := base.Seconds() * 1.2
	return time.Duration((low + rand.Float64()*(high-low)) * float64(time.Second))
}
