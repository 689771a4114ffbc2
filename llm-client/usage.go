package llmclient

import (
	"context"
	"sync"
)

// TokenStats is a cumulative usage snapshot.
type TokenStats struct {
	Calls        int `json:"calls"`
	Failures     int `json:"failures"`
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// UsageTracker accumulates token usage across concurrent calls.
type UsageTracker struct {
	mu    sync.Mutex
	stats TokenStats
}

// Add records one call.
func (u *UsageTracker) Add(usage Usage, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stats.Calls++
	if err != nil {
		u.stats.Failures++
		return
	}
	u.stats.PromptTokens += usage.PromptTokens
	u.stats.OutputTokens += usage.OutputTokens
}

// Stats returns the current totals.
func (u *UsageTracker) Stats() TokenStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

// Tracked wraps a client so every call is recorded in u.
func (u *UsageTracker) Tracked(c Client) Client {
	return &trackedClient{Client: c, tracker: u}
}

type trackedClient struct {
	Client
	tracker *UsageTracker
}

func (t *trackedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := t.Client.Complete(ctx, req)
	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}
	t.tracker.Add(usage, err)
	return resp, err
}
