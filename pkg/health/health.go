package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CheckType represents the type of probe
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeExec CheckType = "exec"
	CheckTypeRPC  CheckType = "rpc"
)

// Result represents the outcome of a probe
type Result struct {
	Healthy   bool
	Message   string
	Output    []string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all probes implement
type Checker interface {
	// Check performs the probe once and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of probe
	Type() CheckType
}

// ErrRetriesExhausted is returned by Poll when no attempt was healthy
var ErrRetriesExhausted = errors.New("probe still unhealthy after all attempts")

// PollConfig bounds a polling loop
type PollConfig struct {
	// Attempts is the maximum number of probes
	Attempts int

	// Interval is the wait between failed probes
	Interval time.Duration

	// OnFailure is called after each unhealthy probe with its 1-based attempt number
	OnFailure func(attempt int, result Result)

	// Sleep waits between attempts; defaults to a context-aware timer
	Sleep func(ctx context.Context, d time.Duration) error
}

// Poll probes until healthy or until cfg.Attempts probes have failed
func Poll(ctx context.Context, checker Checker, cfg PollConfig) (Result, error) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var last Result
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		last = checker.Check(ctx)
		if last.Healthy {
			return last, nil
		}
		if cfg.OnFailure != nil {
			cfg.OnFailure(attempt, last)
		}
		if attempt == cfg.Attempts {
			break
		}
		if err := sleep(ctx, cfg.Interval); err != nil {
			return last, err
		}
	}
	return last, fmt.Errorf("%w (%d attempts): %s", ErrRetriesExhausted, cfg.Attempts, last.Message)
}

// SleepContext waits for d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
