package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

type Candidate struct {
	Name     string
	Provider Provider
}

type RetryOptions struct {
	Attempts       int
	AttemptTimeout time.Duration
	Delay          func(attempt int) time.Duration
}

// RetryingProvider retries transient failures per candidate and fails over
// to the next candidate once a candidate is exhausted.
type RetryingProvider struct {
	candidates []Candidate
	opts       RetryOptions
}

func NewRetryingProvider(candidates []Candidate, opts RetryOptions) *RetryingProvider {
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.Delay == nil {
		opts.Delay = retryDelay
	}
	return &RetryingProvider{candidates: candidates, opts: opts}
}

func retryDelay(attempt int) time.Duration {
	switch attempt {
	case 2:
		return 250 * time.Millisecond
	case 3:
		return 750 * time.Millisecond
	default:
		return 0
	}
}

func (r *RetryingProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	if len(r.candidates) == 0 {
		return "", errors.New("no llm providers configured")
	}
	var lastErr error
	for _, candidate := range r.candidates {
		for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
			if delay := r.opts.Delay(attempt); delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			generateCtx := ctx
			cancel := func() {}
			if r.opts.AttemptTimeout > 0 {
				generateCtx, cancel = context.WithTimeout(ctx, r.opts.AttemptTimeout)
			}
			response, err := candidate.Provider.Generate(generateCtx, messages)
			cancel()
			if err == nil {
				return response, nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			log.Warn().Err(err).Str("provider", candidate.Name).Int("attempt", attempt).Msg("llm_generate_failed")
			if IsFatal(err) || !IsRetryable(err) {
				break
			}
			// Timeouts are the slowest failure mode; cap these to two attempts.
			if isTimeout(err) && attempt >= 2 {
				break
			}
		}
	}
	return "", lastErr
}
