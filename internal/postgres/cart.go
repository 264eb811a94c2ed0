package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/sindri/internal/domain"
)

const cartColumns = `id, token, user_id, status, items, coupon,
	subtotal_cents, tax_cents, shipping_cents, total_cents,
	checkout_token, checkout_started_at, checkout_expiry,
	order_id, completed_at, expires_at, created_at, updated_at`

// CartStore persists carts. Mutations that touch items and totals together
// are single UPDATEs; status transitions are compare-and-swap on the
// current status.
type CartStore struct {
	pool *pgxpool.Pool
}

// NewCartStore creates a CartStore.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

// Create inserts a new cart row.
func (s *CartStore) Create(ctx context.Context, cart *domain.Cart) error {
	itemsJSON, couponJSON, err := marshalContents(cart.Items, cart.Coupon)
	if err != nil {
		return err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO carts (token, user_id, status, items, coupon,
			subtotal_cents, tax_cents, shipping_cents, total_cents, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		cart.Token, cart.UserID, cart.Status, itemsJSON, couponJSON,
		cart.SubtotalCents, cart.TaxCents, cart.ShippingCents, cart.TotalCents,
		cart.ExpiresAt,
	)

	if err := row.Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert cart: %w", err)
	}

	return nil
}

// GetByToken retrieves a cart by its external token.
func (s *CartStore) GetByToken(ctx context.Context, token string) (*domain.Cart, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE token = $1`, token)
	return scanCart(row)
}

// GetByID retrieves a cart by its storage key.
func (s *CartStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE id = $1`, id)
	return scanCart(row)
}

// GetLiveByUser retrieves the user's live (active or checkout) cart. If the
// race window ever produced more than one, the most recent wins and the
// others age out via TTL.
func (s *CartStore) GetLiveByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+cartColumns+` FROM carts
		WHERE user_id = $1 AND status IN ('active', 'checkout')
		ORDER BY updated_at DESC
		LIMIT 1`, userID)
	return scanCart(row)
}

// SaveContents writes items, coupon, and totals in one atomic update,
// conditioned on the cart still being active. Returns false when no row
// matched: the cart vanished, was locked for checkout, or reached a
// terminal state between the caller's read and this write.
func (s *CartStore) SaveContents(ctx context.Context, cartID uuid.UUID, items []domain.CartItem, coupon *domain.AppliedCoupon, totals domain.Totals) (bool, error) {
	itemsJSON, couponJSON, err := marshalContents(items, coupon)
	if err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE carts
		SET items = $2, coupon = $3,
			subtotal_cents = $4, tax_cents = $5, shipping_cents = $6, total_cents = $7,
			updated_at = now()
		WHERE id = $1 AND status = 'active'`,
		cartID, itemsJSON, couponJSON,
		totals.SubtotalCents, totals.TaxCents, totals.ShippingCents, totals.TotalCents,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save cart contents: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Claim assigns ownership of an ownerless cart. Conditional on user_id
// still being null, so two racing claims cannot both succeed.
func (s *CartStore) Claim(ctx context.Context, cartID, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE carts
		SET user_id = $2, updated_at = now()
		WHERE id = $1 AND user_id IS NULL AND status IN ('active', 'checkout')`,
		cartID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim cart: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// AcquireCheckoutLock transitions a cart into checkout. The WHERE clause is
// the compare-and-swap: only an active cart or a checkout cart whose lock
// already expired can be (re)locked. Exactly one of two concurrent callers
// can match the row.
func (s *CartStore) AcquireCheckoutLock(ctx context.Context, cartID uuid.UUID, token string, startedAt, expiry time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE carts
		SET status = 'checkout',
			checkout_token = $2,
			checkout_started_at = $3,
			checkout_expiry = $4,
			updated_at = now()
		WHERE id = $1
		  AND (status = 'active'
		       OR (status = 'checkout' AND checkout_expiry <= now()))`,
		cartID, token, startedAt, expiry,
	)
	if err != nil {
		return false, fmt.Errorf("failed to acquire checkout lock: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Delete removes a cart row. Used when a guest cart has been merged into a
// user cart; the destination write must already be durable by the time this
// is called.
func (s *CartStore) Delete(ctx context.Context, cartID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

// MarkAbandoned flips checkout carts whose lock expired more than grace ago
// into the abandoned terminal state. Returns the number of carts flipped.
func (s *CartStore) MarkAbandoned(ctx context.Context, grace time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE carts
		SET status = 'abandoned', updated_at = now()
		WHERE status = 'checkout'
		  AND checkout_expiry <= now() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(grace.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark abandoned carts: %w", err)
	}

	return tag.RowsAffected(), nil
}

// DeleteExpired removes carts past their TTL. Ordered carts are kept; the
// order references them only by id and token, but their row is the shopper's
// history anchor until the TTL passes.
func (s *CartStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM carts
		WHERE expires_at <= now() AND status != 'checkout'`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired carts: %w", err)
	}

	return tag.RowsAffected(), nil
}

// marshalContents encodes the JSONB columns.
func marshalContents(items []domain.CartItem, coupon *domain.AppliedCoupon) ([]byte, []byte, error) {
	if items == nil {
		items = []domain.CartItem{}
	}

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal cart items: %w", err)
	}

	var couponJSON []byte
	if coupon != nil {
		couponJSON, err = json.Marshal(coupon)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal coupon: %w", err)
		}
	}

	return itemsJSON, couponJSON, nil
}

// scanCart reads one cart row.
func scanCart(row pgx.Row) (*domain.Cart, error) {
	var (
		cart          domain.Cart
		itemsJSON     []byte
		couponJSON    []byte
		checkoutToken *string
	)

	err := row.Scan(
		&cart.ID, &cart.Token, &cart.UserID, &cart.Status, &itemsJSON, &couponJSON,
		&cart.SubtotalCents, &cart.TaxCents, &cart.ShippingCents, &cart.TotalCents,
		&checkoutToken, &cart.CheckoutStartedAt, &cart.CheckoutExpiry,
		&cart.OrderID, &cart.CompletedAt, &cart.ExpiresAt, &cart.CreatedAt, &cart.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if checkoutToken != nil {
		cart.CheckoutToken = *checkoutToken
	}

	if err := json.Unmarshal(itemsJSON, &cart.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart items: %w", err)
	}

	if len(couponJSON) > 0 {
		cart.Coupon = &domain.AppliedCoupon{}
		if err := json.Unmarshal(couponJSON, cart.Coupon); err != nil {
			return nil, fmt.Errorf("failed to unmarshal coupon: %w", err)
		}
	}

	return &cart, nil
}
