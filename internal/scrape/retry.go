package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/montabano1/RyanScraper/internal/domain"
)

// RetryPolicy is exponential backoff applied around a whole scrape.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

func DefaultRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2.0}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetry()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// Do retries fn with backoff. Permanent errors and a done ctx stop it early.
func (p RetryPolicy) Do(ctx context.Context, log *slog.Logger, op string, fn func(context.Context) error) error {
	p = p.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	var (
		lastErr error
		attempt int
	)
	delay := p.BaseDelay
	for attempt = 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == p.MaxAttempts {
			break
		}

		log.Warn("scrape attempt failed; retrying", "class", "scrape_retry", "op", op,
			"attempt", attempt, "max_attempts", p.MaxAttempts, "wait", delay, "err", lastErr)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), lastErr)
		case <-t.C:
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return fmt.Errorf("%s failed after %d attempt(s): %w", op, attempt, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

type retrying struct {
	Scraper
	policy RetryPolicy
	log    *slog.Logger
}

// WithRetry wraps s so every Scrape goes through policy.
func WithRetry(s Scraper, policy RetryPolicy, log *slog.Logger) Scraper {
	return &retrying{Scraper: s, policy: policy, log: log}
}

func (r *retrying) Scrape(ctx context.Context) ([]domain.RawRecord, error) {
	var out []domain.RawRecord
	err := r.policy.Do(ctx, r.log, r.Name(), func(ctx context.Context) error {
		recs, err := r.Scraper.Scrape(ctx)
		if err != nil {
			return err
		}
		out = recs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
