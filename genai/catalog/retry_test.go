package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubSearcher struct {
	results [][]Entry
	errs    []error
	calls   int
}

func (s *stubSearcher) Search(ctx context.Context, query string, topK int, scope Scope) ([]Entry, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var entries []Entry
	if i < len(s.results) {
		entries = s.results[i]
	}
	return entries, err
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestReader_SearchWithRetry_SucceedsOnThirdAttempt(t *testing.T) {
	stub := &stubSearcher{results: [][]Entry{
		nil,
		nil,
		{{ID: "notion_notion_create-page", IntegrationKey: "notion", ToolKey: "notion_create-page"}},
	}}
	reader := NewReader(stub, RetryPolicy{Attempts: 4, MinWait: time.Second, MaxWait: 3 * time.Second, Sleep: noSleep})

	entries, err := reader.SearchWithRetry(context.Background(), "create a page", 5, Scope{Namespace: "user-1", IntegrationKey: "notion"})
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 3, stub.calls)
}

func TestReader_SearchWithRetry_ExhaustsAttempts(t *testing.T) {
	stub := &stubSearcher{}
	reader := NewReader(stub, RetryPolicy{Attempts: 4, MinWait: time.Second, MaxWait: 3 * time.Second, Sleep: noSleep})

	entries, err := reader.SearchWithRetry(context.Background(), "anything", 5, Scope{Namespace: "user-1"})
	assert.True(t, errors.Is(err, ErrNoResults))
	assert.Empty(t, entries)
	assert.Equal(t, 4, stub.calls)
}

func TestReader_SearchWithRetry_PropagatesSearchError(t *testing.T) {
	boom := errors.New("index unavailable")
	stub := &stubSearcher{errs: []error{boom}}
	reader := NewReader(stub, RetryPolicy{Attempts: 4, MinWait: time.Second, MaxWait: 3 * time.Second, Sleep: noSleep})

	_, err := reader.SearchWithRetry(context.Background(), "anything", 5, Scope{})
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, stub.calls)
}

func TestRetryPolicy_BackoffBounded(t *testing.T) {
	policy := RetryPolicy{Attempts: 4, MinWait: time.Second, MaxWait: 3 * time.Second}
	assert.Equal(t, time.Second, policy.Backoff(0))
	assert.Equal(t, 2*time.Second, policy.Backoff(1))
	assert.Equal(t, 3*time.Second, policy.Backoff(2))
}
