package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
)

// Error is returned for every terminal fetch failure. Its message is meant to
// be shown to the user as is.
type Error struct {
	URL      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("unable to reach %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("unable to reach %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// attemptCap bounds a predicate that never says stop.
const attemptCap = 64

// RetryPredicate is consulted after each failed attempt (1-based) and reports
// whether another attempt should be made.
type RetryPredicate func(attempt int) bool

// MaxAttempts returns a predicate allowing n attempts in total.
func MaxAttempts(n int) RetryPredicate {
	return func(attempt int) bool {
		return attempt < n
	}
}

type Resolver struct {
	httpClient *http.Client
	retryDelay time.Duration
}

type ResolverOptions struct {
	HTTPClient *http.Client
	// Timeout bounds a single GET when HTTPClient is not set.
	Timeout    time.Duration
	RetryDelay time.Duration
}

func NewResolver(opts ResolverOptions) *Resolver {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Resolver{
		httpClient: client,
		retryDelay: opts.RetryDelay,
	}
}

// Fetch downloads and decodes the manifest at url. shouldRetry decides after
// every failure whether to try again; nil means a single attempt.
func (r *Resolver) Fetch(ctx context.Context, url string, shouldRetry RetryPredicate) (*Manifest, error) {
	if shouldRetry == nil {
		shouldRetry = MaxAttempts(1)
	}

	attempt := 0
	manifest, err := retry.DoWithData(func() (*Manifest, error) {
		attempt++
		return r.fetch(ctx, url)
	},
		retry.Attempts(attemptCap),
		retry.Delay(r.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil || !retry.IsRecoverable(err) {
				return false
			}
			return shouldRetry(attempt)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().
				Err(err).
				Str("url", url).
				Uint("retry_number", n).
				Msg("retrying media fetch")
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &Error{URL: url, Attempts: attempt, Err: err}
	}
	return manifest, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bts, err := io.ReadAll(io.LimitReader(resp.Body, 512))
		if err != nil || len(bts) == 0 {
			return nil, fmt.Errorf("status code %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("status code %d (%s)", resp.StatusCode, string(bts))
	}

	var manifest Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if manifest.URL == "" {
		manifest.URL = url
	}
	return &manifest, nil
}
