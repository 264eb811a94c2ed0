package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dukerupert/sindri/internal/domain"
)

const orderColumns = `id, order_number, user_id, cart_id, cart_token, status, items,
	address_id, payment_method,
	subtotal_cents, discount_cents, shipping_cents, tax_cents, total_cents,
	coupon_code, idempotency_key, created_at`

const uniqueViolation = "23505"

// OrderStore persists orders and their payment records.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// GetByID retrieves an order.
func (s *OrderStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// GetByKey retrieves the order previously created for a user's idempotency
// key, if any.
func (s *OrderStore) GetByKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key)
	return scanOrder(row)
}

// CountCompletedByUser counts the user's non-cancelled orders. Used by the
// new-customers-only coupon check.
func (s *OrderStore) CountCompletedByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM orders WHERE user_id = $1 AND status != 'cancelled'`,
		userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}

// Create writes the order, its payment record, and the cart's terminal
// transition in one transaction. The unique (user_id, idempotency_key)
// index makes concurrent duplicate submits an insert-or-fail race: the
// loser re-reads the winner's order and returns it with created=false.
//
// Returns domain.ErrCheckoutLockLost when the cart is no longer in the
// checkout state, meaning the caller's lock was stolen or abandoned
// between validation and commit.
func (s *OrderStore) Create(ctx context.Context, order *domain.Order, couponID *uuid.UUID) (*domain.Order, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	itemsJSON, err := marshalOrderItems(order.Items)
	if err != nil {
		return nil, false, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO orders (order_number, user_id, cart_id, cart_token, status, items,
			address_id, payment_method,
			subtotal_cents, discount_cents, shipping_cents, tax_cents, total_cents,
			coupon_code, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at`,
		order.OrderNumber, order.UserID, order.CartID, order.CartToken, order.Status, itemsJSON,
		order.AddressID, order.PaymentMethod,
		order.SubtotalCents, order.DiscountCents, order.ShippingCents, order.TaxCents, order.TotalCents,
		order.CouponCode, order.IdempotencyKey,
	)

	if err := row.Scan(&order.ID, &order.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			tx.Rollback(ctx)
			existing, readErr := s.GetByKey(ctx, order.UserID, order.IdempotencyKey)
			if readErr != nil {
				return nil, false, fmt.Errorf("failed to read existing order after duplicate key: %w", readErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to insert order: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payments (order_id, method, amount_cents, status)
		VALUES ($1, $2, $3, 'pending')`,
		order.ID, order.PaymentMethod, order.TotalCents,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert payment: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE carts
		SET status = 'ordered',
			order_id = $2,
			completed_at = now(),
			updated_at = now()
		WHERE id = $1 AND status = 'checkout'`,
		order.CartID, order.ID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to complete cart: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, false, domain.ErrCheckoutLockLost
	}

	if couponID != nil {
		_, err = tx.Exec(ctx, `
			UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`,
			*couponID,
		)
		if err != nil {
			return nil, false, fmt.Errorf("failed to record coupon use: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit order: %w", err)
	}

	return order, true, nil
}

func marshalOrderItems(items []domain.OrderItem) ([]byte, error) {
	if items == nil {
		items = []domain.OrderItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order items: %w", err)
	}
	return itemsJSON, nil
}

// scanOrder reads one order row.
func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		order     domain.Order
		itemsJSON []byte
	)

	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.CartID, &order.CartToken,
		&order.Status, &itemsJSON,
		&order.AddressID, &order.PaymentMethod,
		&order.SubtotalCents, &order.DiscountCents, &order.ShippingCents, &order.TaxCents, &order.TotalCents,
		&order.CouponCode, &order.IdempotencyKey, &order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
	}

	return &order, nil
}
