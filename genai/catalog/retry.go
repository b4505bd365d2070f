package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoResults signals that every bounded attempt returned zero entries.
// It marks an eventual-consistency gap, not an infrastructure fault: the
// index is populated asynchronously relative to "connection succeeded", so a
// just-connected app's tools may not be searchable for a few seconds.
var ErrNoResults = errors.New("catalog: no search results")

// RetryPolicy bounds the retry-aware read. Sleep is injectable so the reader
// is deterministically testable without real timers.
type RetryPolicy struct {
	// Attempts is the total number of searches (initial + retries).
	Attempts int

	// MinWait and MaxWait bound the per-attempt backoff.
	MinWait time.Duration
	MaxWait time.Duration

	// Sleep waits for the supplied duration or until ctx is done. When nil a
	// real timer is used.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy mirrors the indexing pipeline's observed lag: four
// total attempts with backoff between one and three seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, MinWait: time.Second, MaxWait: 3 * time.Second}
}

// Backoff returns the wait before the given zero-based retry attempt,
// doubling from MinWait and capped at MaxWait.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	wait := p.MinWait << attempt
	if wait > p.MaxWait {
		wait = p.MaxWait
	}
	if wait < p.MinWait {
		wait = p.MinWait
	}
	return wait
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reader wraps a Searcher with bounded retry-with-backoff to absorb
// eventual-consistency lag between connection establishment and index
// visibility.
type Reader struct {
	searcher Searcher
	policy   RetryPolicy
}

// NewReader creates a retry-aware reader. A zero-attempt policy falls back
// to the default.
func NewReader(searcher Searcher, policy RetryPolicy) *Reader {
	if policy.Attempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Reader{searcher: searcher, policy: policy}
}

// SearchWithRetry performs up to policy.Attempts searches. Zero results is a
// retryable condition; an error from the backing search is a hard fault and
// is returned immediately. When all attempts return zero entries the reader
// returns ErrNoResults so the caller can run its forced re-index escape
// hatch and search once more.
func (r *Reader) SearchWithRetry(ctx context.Context, query string, topK int, scope Scope) ([]Entry, error) {
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		entries, err := r.searcher.Search(ctx, query, topK, scope)
		if err != nil {
			return nil, fmt.Errorf("catalog search failed: %w", err)
		}
		if len(entries) > 0 {
			return entries, nil
		}
		if attempt == r.policy.Attempts-1 {
			break
		}
		if err := r.policy.sleep(ctx, r.policy.Backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, ErrNoResults
}
