package llmclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"extract-core/failure"
)

// RetryPolicy bounds request-level retries.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// RetryClient retries transient failures of the wrapped client with a fixed
// delay. Client, parse and validation failures are returned immediately.
type RetryClient struct {
	Client
	policy RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryClient wraps c. A nil logger disables logging.
func NewRetryClient(c Client, policy RetryPolicy, logger *zap.Logger) *RetryClient {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryClient{Client: c, policy: policy, logger: logger, sleep: sleepCtx}
}

// Complete implements Client.
func (r *RetryClient) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, _, err := r.CompleteWithAttempts(ctx, req)
	return resp, err
}

// CompleteWithAttempts is Complete that also reports how many calls were made.
func (r *RetryClient) CompleteWithAttempts(ctx context.Context, req Request) (*Response, int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		resp, err := r.Client.Complete(ctx, req)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempt, interrupted(ctxErr, err)
		}
		class := failure.Classify(err, failure.StageRequest)
		if !class.Retryable || attempt == r.policy.MaxAttempts {
			return nil, attempt, err
		}

		r.logger.Warn("retrying request",
			zap.String("provider", r.Provider()),
			zap.Int("attempt", attempt),
			zap.String("error_type", string(class.Type)),
			zap.Error(err))
		if err := r.sleep(ctx, r.policy.Delay); err != nil {
			return nil, attempt, interrupted(err, lastErr)
		}
	}
	return nil, r.policy.MaxAttempts, lastErr
}

// interrupted reports a context error that cut a request short, keeping the
// provider error as text only so callers see the cancellation.
func interrupted(ctxErr, lastErr error) error {
	if lastErr == nil || lastErr == ctxErr {
		return ctxErr
	}
	return fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
