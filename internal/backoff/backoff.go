// Package backoff holds the named retry policies shared by the Wi-Fi,
// broker and durable-log retry sites.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned (wrapping the last attempt's error) when every
// attempt of a policy failed.
var ErrExhausted = errors.New("backoff: attempts exhausted")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Policy describes a bounded retry loop.
type Policy struct {
	Name        string
	MaxAttempts int           // at least 1
	Delay       time.Duration // wait between attempts (not after the last)
	Timeout     time.Duration // per-attempt deadline; 0 means none
}

// Named policies.
var (
	WiFi     = Policy{Name: "wifi", MaxAttempts: 3, Delay: 5 * time.Second, Timeout: 15 * time.Second}
	Broker   = Policy{Name: "broker", MaxAttempts: 3, Delay: 5 * time.Second, Timeout: 30 * time.Second}
	LogWrite = Policy{Name: "log-write", MaxAttempts: 10, Delay: 3 * time.Second}
)

// Do runs fn until it succeeds, the attempts run out, or ctx is done.
// Each attempt receives a context bounded by p.Timeout. The attempt number
// starts at 1.
func (p Policy) Do(ctx context.Context, sleep SleepFunc, fn func(ctx context.Context, attempt int) error) error {
	if sleep == nil {
		sleep = Sleep
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		last = p.try(ctx, attempt, fn)
		if last == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < attempts {
			if err := sleep(ctx, p.Delay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", p.Name, ErrExhausted, attempts, last)
}

func (p Policy) try(ctx context.Context, attempt int, fn func(ctx context.Context, attempt int) error) error {
	if p.Timeout <= 0 {
		return fn(ctx, attempt)
	}
	actx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(actx, attempt)
}
