package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CleanupStore is the subset of the cart store the sweeper needs.
type CleanupStore interface {
	MarkAbandoned(ctx context.Context, grace time.Duration) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// Cleaner periodically sweeps carts: checkout carts whose lock expired
// past the grace window become abandoned, and carts past their expiry
// are deleted. Abandoned carts stay around for analytics until expiry.
type Cleaner struct {
	store    CleanupStore
	interval time.Duration
	grace    time.Duration
	logger   zerolog.Logger
}

// NewCleaner creates a cart sweeper.
func NewCleaner(store CleanupStore, interval, grace time.Duration, logger zerolog.Logger) *Cleaner {
	return &Cleaner{
		store:    store,
		interval: interval,
		grace:    grace,
		logger:   logger.With().Str("component", "cleanup").Logger(),
	}
}

// Start runs the sweep loop until the context is cancelled. It runs one
// sweep immediately so a restart doesn't postpone overdue work.
func (c *Cleaner) Start(ctx context.Context) {
	go func() {
		c.sweep(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Msg("cleanup loop stopped")
				return
			case <-ticker.C:
				c.sweep(ctx)
			}
		}
	}()
}

func (c *Cleaner) sweep(ctx context.Context) {
	abandoned, err := c.store.MarkAbandoned(ctx, c.grace)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to mark abandoned carts")
	} else if abandoned > 0 {
		c.logger.Info().Int64("count", abandoned).Msg("marked carts abandoned")
	}

	deleted, err := c.store.DeleteExpired(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to delete expired carts")
	} else if deleted > 0 {
		c.logger.Info().Int64("count", deleted).Msg("deleted expired carts")
	}
}
