// Package ratelimit throttles and retries calls to the remote API.
//
// [Transport] implements [http.RoundTripper]. Every remote request flows
// through one shared instance, which is the process-wide serialization
// point: a token bucket enforces the request-rate ceiling, explicit
// retry-after signals suspend the caller without spending the retry budget,
// and transient failures retry with jittered exponential backoff before
// surfacing [shared.ErrRemoteUnavailable].
package ratelimit

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spx/internal/shared"
	"golang.org/x/time/rate"
)

const (
	defaultRateLimit      = 3.0
	defaultBurst          = 3
	defaultMaxAttempts    = 6
	defaultInitialBackoff = time.Second
	defaultBackoffFactor  = 1.5

	// rejectedBodyLimit caps how much of a 4xx response body is carried in the error.
	rejectedBodyLimit = 2048
)

// Options configures a [Transport].
type Options struct {
	RateLimit      float64 // requests per second, 0 uses the default
	Burst          int
	MaxAttempts    int
	InitialBackoff time.Duration
	BackoffFactor  float64
	Logger         *log.Logger
}

// Transport gates requests through a token bucket and maps failures onto the
// shared error taxonomy. Responses with status 2xx/3xx pass through; 429
// suspends and retries, 5xx and network errors retry with backoff, other 4xx
// fail immediately.
type Transport struct {
	next           http.RoundTripper
	limiter        *rate.Limiter
	logger         *log.Logger
	maxAttempts    int
	initialBackoff time.Duration
	backoffFactor  float64

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Transport wrapping next. A nil next uses [http.DefaultTransport].
func New(next http.RoundTripper, opts Options) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.BackoffFactor <= 1 {
		opts.BackoffFactor = defaultBackoffFactor
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &Transport{
		next:           next,
		limiter:        rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		logger:         opts.Logger,
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
		backoffFactor:  opts.BackoffFactor,
		sleep:          sleepContext,
	}
}

// RoundTrip implements [http.RoundTripper].
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	replayable := req.Body == nil || req.GetBody != nil

	var lastErr error
	attempts := 0 // transient failures only; 429 waits never count
	delay := t.initialBackoff

	for iteration := 0; ; iteration++ {
		r := req
		if iteration > 0 {
			r = req.Clone(ctx)
			if req.Body != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("%w: rewinding request body: %v", shared.ErrRemoteUnavailable, err)
				}
				r.Body = body
			}
		}

		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := t.next.RoundTrip(r)
		switch {
		case err != nil:
			lastErr = err

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := t.retryAfter(resp)
			drain(resp)
			if !replayable {
				return nil, fmt.Errorf("%w: rate limited and request body cannot be replayed", shared.ErrRemoteUnavailable)
			}
			t.logger.Warn("rate limited by remote", "retry_after", wait, "url", r.URL.Path)
			if err := t.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			drain(resp)

		case resp.StatusCode >= 400:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, rejectedBodyLimit))
			drain(resp)
			return nil, fmt.Errorf("%w: status %d: %s", shared.ErrRemoteRejected, resp.StatusCode, snippet)

		default:
			return resp, nil
		}

		attempts++
		if attempts >= t.maxAttempts {
			return nil, fmt.Errorf("%w: %d attempts: %v", shared.ErrRemoteUnavailable, attempts, lastErr)
		}
		if !replayable {
			return nil, fmt.Errorf("%w: request body cannot be replayed: %v", shared.ErrRemoteUnavailable, lastErr)
		}

		wait := jitter(delay)
		t.logger.Debug("retrying request", "attempt", attempts, "wait", wait, "cause", lastErr)
		if err := t.sleep(ctx, wait); err != nil {
			return nil, err
		}
		delay = time.Duration(float64(delay) * t.backoffFactor)
	}
}

// retryAfter reads the mandated wait from a 429 response, falling back to the
// initial backoff when the header is missing or unparseable.
func (t *Transport) retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return t.initialBackoff
	}

	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return t.initialBackoff
	}
	return time.Duration(seconds) * time.Second
}

// jitter spreads a backoff delay over [d/2, d) so concurrent retries don't align.
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(half)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
