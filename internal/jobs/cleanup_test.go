package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type mockCleanupStore struct {
	markAbandonedFunc func(ctx context.Context, grace time.Duration) (int64, error)
	deleteExpiredFunc func(ctx context.Context) (int64, error)
}

func (m *mockCleanupStore) MarkAbandoned(ctx context.Context, grace time.Duration) (int64, error) {
	return m.markAbandonedFunc(ctx, grace)
}

func (m *mockCleanupStore) DeleteExpired(ctx context.Context) (int64, error) {
	return m.deleteExpiredFunc(ctx)
}

func TestSweepRunsBothPhases(t *testing.T) {
	var gotGrace time.Duration
	deleted := false
	store := &mockCleanupStore{
		markAbandonedFunc: func(ctx context.Context, grace time.Duration) (int64, error) {
			gotGrace = grace
			return 3, nil
		},
		deleteExpiredFunc: func(ctx context.Context) (int64, error) {
			deleted = true
			return 1, nil
		},
	}

	c := NewCleaner(store, time.Hour, 30*time.Minute, zerolog.Nop())
	c.sweep(context.Background())

	assert.Equal(t, 30*time.Minute, gotGrace)
	assert.True(t, deleted)
}

func TestSweepContinuesPastAbandonError(t *testing.T) {
	deleted := false
	store := &mockCleanupStore{
		markAbandonedFunc: func(ctx context.Context, grace time.Duration) (int64, error) {
			return 0, errors.New("db down")
		},
		deleteExpiredFunc: func(ctx context.Context) (int64, error) {
			deleted = true
			return 0, nil
		},
	}

	c := NewCleaner(store, time.Hour, time.Hour, zerolog.Nop())
	c.sweep(context.Background())

	assert.True(t, deleted)
}
