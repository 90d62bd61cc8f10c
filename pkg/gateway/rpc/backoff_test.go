package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffRetriesTransient(t *testing.T) {
	b := &Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond, Deadline: time.Second}

	attempts := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestBackoffFailsFastOnFatal(t *testing.T) {
	b := &Backoff{Base: time.Millisecond, Cap: 5 * time.Millisecond, Deadline: time.Second}

	attempts := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("unsupported file: SOUL.md")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoffHonorsDeadline(t *testing.T) {
	b := &Backoff{Base: 10 * time.Millisecond, Cap: 20 * time.Millisecond, Deadline: 50 * time.Millisecond}

	start := time.Now()
	err := b.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("connection reset")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry deadline exceeded")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWithJitterStaysBounded(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := withJitter(base)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}
