package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/dukerupert/sindri/internal/domain"
	"github.com/dukerupert/sindri/internal/pricing"
	"github.com/dukerupert/sindri/internal/shipping"
	"github.com/dukerupert/sindri/internal/tax"
)

// memCartStore is an in-memory CartStore with the same conditional-write
// semantics as the real one, so lock races and lost updates behave the
// way they do against the database.
type memCartStore struct {
	mu    sync.Mutex
	carts map[uuid.UUID]*domain.Cart
}

func newMemCartStore() *memCartStore {
	return &memCartStore{carts: make(map[uuid.UUID]*domain.Cart)}
}

func copyCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Items = append([]domain.CartItem(nil), c.Items...)
	if c.Coupon != nil {
		coupon := *c.Coupon
		out.Coupon = &coupon
	}
	return &out
}

func (m *memCartStore) Create(ctx context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart.ID = uuid.New()
	cart.CreatedAt = time.Now()
	cart.UpdatedAt = cart.CreatedAt
	m.carts[cart.ID] = copyCart(cart)
	return nil
}

func (m *memCartStore) GetByToken(ctx context.Context, token string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.carts {
		if c.Token == token {
			return copyCart(c), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memCartStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyCart(c), nil
}

func (m *memCartStore) GetLiveByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *domain.Cart
	for _, c := range m.carts {
		if c.UserID != nil && *c.UserID == userID && c.Status.Live() {
			if latest == nil || c.UpdatedAt.After(latest.UpdatedAt) {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, pgx.ErrNoRows
	}
	return copyCart(latest), nil
}

func (m *memCartStore) SaveContents(ctx context.Context, cartID uuid.UUID, items []domain.CartItem, coupon *domain.AppliedCoupon, totals domain.Totals) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[cartID]
	if !ok || c.Status != domain.CartStatusActive {
		return false, nil
	}

	c.Items = append([]domain.CartItem(nil), items...)
	if coupon != nil {
		cp := *coupon
		c.Coupon = &cp
	} else {
		c.Coupon = nil
	}
	c.Totals = totals
	c.UpdatedAt = time.Now()
	return true, nil
}

func (m *memCartStore) Claim(ctx context.Context, cartID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[cartID]
	if !ok || c.UserID != nil || !c.Status.Live() {
		return false, nil
	}
	id := userID
	c.UserID = &id
	c.UpdatedAt = time.Now()
	return true, nil
}

func (m *memCartStore) AcquireCheckoutLock(ctx context.Context, cartID uuid.UUID, token string, startedAt, expiry time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[cartID]
	if !ok {
		return false, nil
	}

	lockable := c.Status == domain.CartStatusActive ||
		(c.Status == domain.CartStatusCheckout &&
			c.CheckoutExpiry != nil && !c.CheckoutExpiry.After(time.Now()))
	if !lockable {
		return false, nil
	}

	c.Status = domain.CartStatusCheckout
	c.CheckoutToken = token
	start, exp := startedAt, expiry
	c.CheckoutStartedAt = &start
	c.CheckoutExpiry = &exp
	c.UpdatedAt = time.Now()
	return true, nil
}

func (m *memCartStore) Delete(ctx context.Context, cartID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.carts, cartID)
	return nil
}

// completeOrder mimics the order transaction's cart transition.
func (m *memCartStore) completeOrder(cartID, orderID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[cartID]
	if !ok || c.Status != domain.CartStatusCheckout {
		return false
	}
	c.Status = domain.CartStatusOrdered
	id := orderID
	c.OrderID = &id
	now := time.Now()
	c.CompletedAt = &now
	return true
}

type mockCouponStore struct {
	rule *domain.CouponRule
	err  error
}

func (m *mockCouponStore) GetByCode(ctx context.Context, code string) (*domain.CouponRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.rule == nil {
		return nil, pgx.ErrNoRows
	}
	rule := *m.rule
	return &rule, nil
}

type mockOrderCounter struct {
	count int64
	err   error
}

func (m *mockOrderCounter) CountCompletedByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	return m.count, m.err
}

// memOrderStore implements OrderStore over the memCartStore so the order
// transaction's compare-and-swap on the cart is observable in tests.
type memOrderStore struct {
	mu     sync.Mutex
	carts  *memCartStore
	orders map[uuid.UUID]*domain.Order
	byKey  map[string]uuid.UUID
}

func newMemOrderStore(carts *memCartStore) *memOrderStore {
	return &memOrderStore{
		carts:  carts,
		orders: make(map[uuid.UUID]*domain.Order),
		byKey:  make(map[string]uuid.UUID),
	}
}

func orderKey(userID uuid.UUID, key string) string {
	return userID.String() + "\x00" + key
}

func (m *memOrderStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *o
	return &out, nil
}

func (m *memOrderStore) GetByKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[orderKey(userID, key)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *m.orders[id]
	return &out, nil
}

func (m *memOrderStore) CountCompletedByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, o := range m.orders {
		if o.UserID == userID && o.Status != domain.OrderStatusCancelled {
			n++
		}
	}
	return n, nil
}

func (m *memOrderStore) Create(ctx context.Context, order *domain.Order, couponID *uuid.UUID) (*domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := orderKey(order.UserID, order.IdempotencyKey)
	if id, ok := m.byKey[key]; ok {
		out := *m.orders[id]
		return &out, false, nil
	}

	order.ID = uuid.New()
	order.CreatedAt = time.Now()

	if !m.carts.completeOrder(order.CartID, order.ID) {
		return nil, false, domain.ErrCheckoutLockLost
	}

	stored := *order
	m.orders[order.ID] = &stored
	m.byKey[key] = order.ID

	return order, true, nil
}

type mockPublisher struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (m *mockPublisher) Publish(ctx context.Context, subject string, event any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return m.err
}

func (m *mockPublisher) published(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, s := range m.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

// fixture wires a full service set over the in-memory stores.
type fixture struct {
	carts   *memCartStore
	orders  *memOrderStore
	coupons *mockCouponStore
	counter *mockOrderCounter
	pricer  *pricing.MockResolver
	pub     *mockPublisher

	cart     CartService
	checkout CheckoutService
	order    OrderService
}

func newFixture() *fixture {
	carts := newMemCartStore()
	orders := newMemOrderStore(carts)
	coupons := &mockCouponStore{}
	counter := &mockOrderCounter{}
	pricer := pricing.NewMockResolver()
	pub := &mockPublisher{}

	shipper := shipping.NewEstimator(1000, 99)
	taxer := tax.NewNoTax()
	logger := zerolog.Nop()

	return &fixture{
		carts:   carts,
		orders:  orders,
		coupons: coupons,
		counter: counter,
		pricer:  pricer,
		pub:     pub,

		cart:     NewCartService(carts, coupons, counter, pricer, shipper, taxer, pub, logger),
		checkout: NewCheckoutService(carts, pub, logger, 5*time.Minute),
		order:    NewOrderService(orders, carts, pricer, shipper, taxer, pub, logger),
	}
}
