package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	MaxTotalTimeout time.Duration
	// AttemptTimeout bounds each individual call when set.
	AttemptTimeout time.Duration
}

// DefaultConfig returns a default retry configuration with 1 minute max timeout
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     10,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		BackoffFactor:   2.0,
		MaxTotalTimeout: 60 * time.Second,
	}
}

// Once returns a configuration that makes the first call plus exactly one retry,
// each call bounded by attemptTimeout.
func Once(attemptTimeout, delay time.Duration) Config {
	return Config{
		MaxAttempts:    2,
		InitialDelay:   delay,
		MaxDelay:       delay,
		BackoffFactor:  1,
		AttemptTimeout: attemptTimeout,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

// Result reports how many calls Do made.
type Result struct {
	Attempts int
}

// Do executes fn with exponential backoff retry logic
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) (Result, error) {
	return DoWithLog(ctx, cfg, "", fn, nil)
}

// DoWithLog executes fn with retry and reports each failed attempt to logFn
func DoWithLog(ctx context.Context, cfg Config, name string, fn func(ctx context.Context) error, logFn func(attempt int, err error, nextDelay time.Duration)) (Result, error) {
	if cfg.MaxTotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MaxTotalTimeout)
		defer cancel()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var res Result
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, wrap(name, fmt.Errorf("retry aborted after %d attempts: %w", res.Attempts, joinLast(err, lastErr)))
		}

		res.Attempts = attempt
		err := callOnce(ctx, cfg.AttemptTimeout, fn)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return res, perm.err
		}

		if attempt == cfg.MaxAttempts {
			return res, wrap(name, fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr))
		}

		if logFn != nil {
			logFn(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return res, wrap(name, fmt.Errorf("retry aborted after %d attempts: %w", attempt, joinLast(ctx.Err(), lastErr)))
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return res, wrap(name, fmt.Errorf("max retry attempts exceeded: %w", lastErr))
}

func callOnce(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func joinLast(ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
}

func wrap(name string, err error) error {
	if name == "" {
		return err
	}
	return fmt.Errorf("%s: %w", name, err)
}
