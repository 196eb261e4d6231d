package ai

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy 控制对瞬时故障的重试。
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy: 3 attempts, 1s base doubling, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

func (p RetryPolicy) backoff() retry.Backoff {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	b := retry.NewExponential(p.BaseDelay)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(p.Attempts-1), b)
}

// generateWithRetry retries only transient failures; everything else is
// returned on the first attempt. The returned error is always *Error.
func generateWithRetry(ctx context.Context, policy RetryPolicy, p Provider, req *Request) (*Answer, error) {
	var (
		answer  *Answer
		attempt int
	)
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		a, err := p.Generate(ctx, req)
		if err == nil {
			answer = a
			return nil
		}
		classified := Classify(p.Name(), req.Model, err)
		if classified.Retryable() && ctx.Err() == nil {
			log.Printf("[ai] %s/%s attempt %d failed (%s), retrying: %v", p.Name(), req.Model, attempt, classified.Kind, err)
			return retry.RetryableError(classified)
		}
		return classified
	})
	if err != nil {
		var classified *Error
		if errors.As(err, &classified) {
			return nil, classified
		}
		return nil, Classify(p.Name(), req.Model, err)
	}
	return answer, nil
}
