package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/sindri/internal/domain"
	"github.com/dukerupert/sindri/internal/pricing"
)

// lockedCart creates a user-owned cart with one priced line and a live
// checkout lock.
func lockedCart(t *testing.T, f *fixture, userID uuid.UUID) *domain.Cart {
	t.Helper()
	ctx := context.Background()

	f.pricer.Set("p1", "", pricing.Quote{UnitCents: 1500})
	cart, _, err := f.cart.AddItem(ctx, Ref{UserID: &userID}, AddItemParams{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)

	session, err := f.checkout.Start(ctx, Ref{Token: cart.Token, UserID: &userID})
	require.NoError(t, err)
	return session.Cart
}

func orderParams(cart *domain.Cart, key string) CreateOrderParams {
	return CreateOrderParams{
		CartToken:      cart.Token,
		IdempotencyKey: key,
		AddressID:      "addr-1",
		PaymentMethod:  "cod",
	}
}

func TestCreateOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()
	cart := lockedCart(t, f, userID)

	order, idempotent, err := f.order.Create(ctx, userID, orderParams(cart, "key-1"))
	require.NoError(t, err)

	assert.False(t, idempotent)
	assert.NotEqual(t, uuid.Nil, order.ID)
	assert.NotEmpty(t, order.OrderNumber)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(1500), order.Items[0].UnitCents)
	assert.Equal(t, int64(3000), order.SubtotalCents)
	// 3000 clears the free-shipping threshold.
	assert.Equal(t, int64(3000), order.TotalCents)

	// The cart reached its terminal state with the order stamped on it.
	stored, err := f.carts.GetByID(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CartStatusOrdered, stored.Status)
	require.NotNil(t, stored.OrderID)
	assert.Equal(t, order.ID, *stored.OrderID)

	assert.Equal(t, 1, f.pub.published("sindri.order.created"))
}

func TestCreateOrderIdempotentReplay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()
	cart := lockedCart(t, f, userID)

	first, idempotent, err := f.order.Create(ctx, userID, orderParams(cart, "key-1"))
	require.NoError(t, err)
	require.False(t, idempotent)

	second, idempotent, err := f.order.Create(ctx, userID, orderParams(cart, "key-1"))
	require.NoError(t, err)

	assert.True(t, idempotent)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	// Side effects ran once.
	assert.Equal(t, 1, f.pub.published("sindri.order.created"))
}

func TestCreateOrderConcurrentSameKey(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()
	cart := lockedCart(t, f, userID)

	const callers = 6
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, _, err := f.order.Create(ctx, userID, orderParams(cart, "shared-key"))
			if err == nil {
				ids[i] = order.ID
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var winner uuid.UUID
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if winner == uuid.Nil {
			winner = ids[i]
		}
		assert.Equal(t, winner, ids[i])
	}
	assert.Equal(t, 1, f.pub.published("sindri.order.created"))
}

func TestCreateOrderRequiresIdempotencyKey(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	cart := lockedCart(t, f, userID)

	_, _, err := f.order.Create(context.Background(), userID, orderParams(cart, ""))
	assert.ErrorIs(t, err, ErrMissingIdempotencyKey)
	assert.Equal(t, "MISSING_IDEMPOTENCY_KEY", domain.ErrorReason(err))
}

func TestCreateOrderRequiresLock(t *testing.T) {
	f := newFixture()
	f.pricer.Set("p1", "", pricing.Quote{UnitCents: 1500})
	ctx := context.Background()
	userID := uuid.New()

	// Active cart, never locked.
	cart, _, err := f.cart.AddItem(ctx, Ref{UserID: &userID}, AddItemParams{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	_, _, err = f.order.Create(ctx, userID, orderParams(cart, "key-1"))
	assert.ErrorIs(t, err, ErrCartNotLocked)
	assert.Equal(t, "CART_NOT_LOCKED", domain.ErrorReason(err))
}

func TestCreateOrderExpiredLockIsDistinct(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()
	cart := lockedCart(t, f, userID)

	expired := time.Now().Add(-time.Second)
	f.carts.mu.Lock()
	f.carts.carts[cart.ID].CheckoutExpiry = &expired
	f.carts.mu.Unlock()

	_, _, err := f.order.Create(ctx, userID, orderParams(cart, "key-1"))
	assert.ErrorIs(t, err, ErrCheckoutExpired)
	assert.Equal(t, "CHECKOUT_EXPIRED", domain.ErrorReason(err))
}

func TestCreateOrderOwnershipMismatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	owner := uuid.New()
	cart := lockedCart(t, f, owner)

	other := uuid.New()
	_, _, err := f.order.Create(ctx, other, orderParams(cart, "key-1"))
	assert.ErrorIs(t, err, ErrNotCartOwner)
}

func TestCreateOrderSnapshotsCoupon(t *testing.T) {
	f := newFixture()
	f.pricer.Set("p1", "", pricing.Quote{UnitCents: 1500})
	f.coupons.rule = &domain.CouponRule{
		ID:           uuid.New(),
		Code:         "SAVE200",
		DiscountType: domain.DiscountFlat,
		ValueCents:   200,
		Active:       true,
	}
	ctx := context.Background()
	userID := uuid.New()

	cart, _, err := f.cart.AddItem(ctx, Ref{UserID: &userID}, AddItemParams{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)
	cart, err = f.cart.ApplyCoupon(ctx, Ref{Token: cart.Token, UserID: &userID}, "SAVE200")
	require.NoError(t, err)

	_, err = f.checkout.Start(ctx, Ref{Token: cart.Token, UserID: &userID})
	require.NoError(t, err)

	order, _, err := f.order.Create(ctx, userID, orderParams(cart, "key-1"))
	require.NoError(t, err)

	assert.Equal(t, "SAVE200", order.CouponCode)
	assert.Equal(t, int64(200), order.DiscountCents)
	assert.Equal(t, int64(3000), order.SubtotalCents)
	assert.Equal(t, int64(2800), order.TotalCents)
}

func TestCreateOrderEmptyCart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()

	// start-checkout on a fresh identity creates and locks an empty cart
	session, err := f.checkout.Start(ctx, Ref{UserID: &userID})
	require.NoError(t, err)

	_, _, err = f.order.Create(ctx, userID, orderParams(session.Cart, "key-1"))
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestGetOrderOwnerOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()
	cart := lockedCart(t, f, userID)

	order, _, err := f.order.Create(ctx, userID, orderParams(cart, "key-1"))
	require.NoError(t, err)

	got, err := f.order.Get(ctx, userID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	other := uuid.New()
	_, err = f.order.Get(ctx, other, order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.order.Get(ctx, userID, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
