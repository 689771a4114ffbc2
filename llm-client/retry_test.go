package llmclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &Response{Text: "ok", Usage: Usage{PromptTokens: 3, OutputTokens: 2}}, nil
}

func (s *scriptedClient) Provider() string { return "fake" }
func (s *scriptedClient) BaseURL() string  { return "http://fake" }
func (s *scriptedClient) SetModel(string)  {}

func noSleep(r *RetryClient) *RetryClient {
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return r
}

func TestRetryClientRetriesTransient(t *testing.T) {
	fake := &scriptedClient{errs: []error{
		&StatusError{Provider: "fake", StatusCode: 503},
		&StatusError{Provider: "fake", StatusCode: 429},
	}}
	r := noSleep(NewRetryClient(fake, RetryPolicy{MaxAttempts: 3, Delay: time.Second}, nil))

	resp, attempts, err := r.CompleteWithAttempts(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, fake.calls)
}

func TestRetryClientStopsOnClientError(t *testing.T) {
	fake := &scriptedClient{errs: []error{&StatusError{Provider: "fake", StatusCode: 401}}}
	r := noSleep(NewRetryClient(fake, RetryPolicy{MaxAttempts: 5}, nil))

	_, attempts, err := r.CompleteWithAttempts(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, fake.calls)
}

func TestRetryClientGivesUpAtCeiling(t *testing.T) {
	transient := &StatusError{Provider: "fake", StatusCode: 500}
	fake := &scriptedClient{errs: []error{transient, transient, transient, transient}}
	r := noSleep(NewRetryClient(fake, RetryPolicy{MaxAttempts: 2}, nil))

	_, attempts, err := r.CompleteWithAttempts(context.Background(), Request{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 500, se.StatusCode)
	assert.Equal(t, 2, attempts)
}

func TestRetryClientHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &scriptedClient{errs: []error{context.Canceled}}
	r := NewRetryClient(fake, RetryPolicy{MaxAttempts: 3, Delay: time.Hour}, nil)

	_, attempts, err := r.CompleteWithAttempts(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestUsageTrackerCounts(t *testing.T) {
	var u UsageTracker
	fake := &scriptedClient{errs: []error{errors.New("boom")}}
	c := u.Tracked(fake)

	_, err := c.Complete(context.Background(), Request{})
	require.Error(t, err)
	_, err = c.Complete(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, TokenStats{Calls: 2, Failures: 1, PromptTokens: 3, OutputTokens: 2}, u.Stats())
}

func TestRetryClientCancelledDuringDelayReportsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &scriptedClient{errs: []error{&StatusError{Provider: "fake", StatusCode: 503, Message: "unavailable"}}}
	r := NewRetryClient(fake, RetryPolicy{MaxAttempts: 3, Delay: time.Hour}, nil)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, attempts, err := r.CompleteWithAttempts(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "503")
	var se *StatusError
	assert.False(t, errors.As(err, &se), "provider status must not mask the cancellation")
	assert.Equal(t, 1, attempts)
}
