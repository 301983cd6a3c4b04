package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"companion/internal/domain"
)

var errEmptyReply = errors.New("empty reply")

const (
	defaultGenerationTimeout = 10 * time.Second
	defaultRetryDelay        = 500 * time.Millisecond
)

// ResilientConfig configures a Resilient generator.
type ResilientConfig struct {
	Generator  domain.Generator
	Timeout    time.Duration // whole budget for one reply, retries included
	MaxRetries int
	RetryDelay time.Duration // doubles after each retry

	// RatePerSecond bounds calls to the upstream across all users. Zero disables it.
	RatePerSecond float64
	Burst         int

	Logger *slog.Logger
}

// Resilient wraps a generator so that a reply is always produced: bounded
// retries inside a fixed time budget, and a personalized fallback text when
// every attempt fails.
type Resilient struct {
	gen        domain.Generator
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewResilient(cfg ResilientConfig) *Resilient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGenerationTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Resilient{
		gen:        cfg.Generator,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return r
}

// Reply never fails: on any unrecoverable upstream problem it returns the
// fallback text for the request's profile.
func (r *Resilient) Reply(ctx context.Context, req domain.GenerateRequest) domain.GenerationResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		lastErr  error
		attempts int
	)
	delay := r.retryDelay

loop:
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Warn("retrying generation", "attempt", attempt+1, "backoff", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break loop
			case <-time.After(delay):
			}
			delay *= 2
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				lastErr = fmt.Errorf("generation rate limit: %w", err)
				break
			}
		}

		attempts++
		text, err := r.generate(ctx, req)
		if err == nil && strings.TrimSpace(text) != "" {
			return domain.GenerationResult{
				Text:     text,
				Source:   domain.SourceGenerated,
				Attempts: attempts,
				Latency:  time.Since(start),
			}
		}
		if err == nil {
			err = errEmptyReply
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		lastErr = errors.New("generation not attempted")
	}
	r.logger.Warn("generation failed, using fallback reply",
		"generator", r.name(),
		"attempts", attempts,
		"error", lastErr,
	)
	return domain.GenerationResult{
		Text:     FallbackReply(req.Profile),
		Source:   domain.SourceFallback,
		Attempts: attempts,
		Latency:  time.Since(start),
		Err:      lastErr,
	}
}

// generate shields the caller from a panicking generator.
func (r *Resilient) generate(ctx context.Context, req domain.GenerateRequest) (text string, err error) {
	if r.gen == nil {
		return "", errors.New("no generator configured")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("generator panic: %v", rec)
		}
	}()
	return r.gen.Generate(ctx, req)
}

func (r *Resilient) name() string {
	if r.gen == nil {
		return "none"
	}
	return r.gen.Name()
}
