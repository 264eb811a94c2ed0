package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/sindri/internal/domain"
)

// CouponStore reads coupon rules from the catalog. Redemption counting
// happens inside the order transaction, not here.
type CouponStore struct {
	pool *pgxpool.Pool
}

// NewCouponStore creates a CouponStore.
func NewCouponStore(pool *pgxpool.Pool) *CouponStore {
	return &CouponStore{pool: pool}
}

// GetByCode retrieves a coupon rule. Codes are case-insensitive.
func (s *CouponStore) GetByCode(ctx context.Context, code string) (*domain.CouponRule, error) {
	var rule domain.CouponRule
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, discount_type, value_cents, percent_bps,
			max_discount_cents, min_cart_value_cents,
			starts_at, ends_at, usage_limit, used_count,
			new_users_only, active
		FROM coupons
		WHERE lower(code) = lower($1)`,
		strings.TrimSpace(code),
	).Scan(
		&rule.ID, &rule.Code, &rule.DiscountType, &rule.ValueCents, &rule.PercentBps,
		&rule.MaxDiscountCents, &rule.MinCartValueCents,
		&rule.StartsAt, &rule.EndsAt, &rule.UsageLimit, &rule.UsedCount,
		&rule.NewUsersOnly, &rule.Active,
	)
	if err != nil {
		return nil, err
	}

	return &rule, nil
}
