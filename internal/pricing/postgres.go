package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresResolver resolves prices from the product_prices table. Variant
// lookups fall through: a missing variant row is a missing price, not a
// fallback to the base product.
type PostgresResolver struct {
	pool *pgxpool.Pool
}

// NewPostgresResolver creates a resolver backed by the local price table.
func NewPostgresResolver(pool *pgxpool.Pool) *PostgresResolver {
	return &PostgresResolver{pool: pool}
}

// ResolvePrice implements Resolver.
func (r *PostgresResolver) ResolvePrice(ctx context.Context, productID, variantID string) (Quote, error) {
	var q Quote
	err := r.pool.QueryRow(ctx, `
		SELECT unit_price_cents, discount_price_cents
		FROM product_prices
		WHERE product_id = $1 AND variant_id = $2`,
		productID, variantID,
	).Scan(&q.UnitCents, &q.DiscountCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrPriceNotFound
		}
		return Quote{}, fmt.Errorf("failed to resolve price: %w", err)
	}

	return q, nil
}
