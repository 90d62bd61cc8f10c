package rpc

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const (
	defaultBackoffBase     = 750 * time.Millisecond
	defaultBackoffCap      = 30 * time.Second
	defaultBackoffDeadline = 10 * time.Minute
	backoffJitterFraction  = 0.2
)

// Backoff retries an operation on transient errors with exponential
// delays under one overall deadline. The deadline is global to the call,
// not per attempt; long template syncs share a single 10 minute window.
type Backoff struct {
	Base     time.Duration
	Cap      time.Duration
	Deadline time.Duration
}

// NewBackoff returns the production retry policy.
func NewBackoff() *Backoff {
	return &Backoff{Base: defaultBackoffBase, Cap: defaultBackoffCap, Deadline: defaultBackoffDeadline}
}

// Do runs fn until it succeeds, fails fatally, or the deadline expires.
// The returned error on deadline expiry wraps the last attempt's error.
func (b *Backoff) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	base := b.Base
	if base <= 0 {
		base = defaultBackoffBase
	}
	cap := b.Cap
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	deadline := b.Deadline
	if deadline <= 0 {
		deadline = defaultBackoffDeadline
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	delay := base
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry deadline exceeded: %w", err)
		case <-time.After(withJitter(delay)):
		}

		delay *= 2
		if delay > cap {
			delay = cap
		}
	}
}

// withJitter spreads delay by ±20% so synced clients do not thunder.
func withJitter(d time.Duration) time.Duration {
	spread := float64(d) * backoffJitterFraction
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}
