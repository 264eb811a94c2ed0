package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/dukerupert/sindri/internal/domain"
	"github.com/dukerupert/sindri/internal/events"
	"github.com/dukerupert/sindri/internal/pricing"
	"github.com/dukerupert/sindri/internal/shipping"
	"github.com/dukerupert/sindri/internal/tax"
)

// OrderStore persists orders. Create is transactional: the order insert,
// payment record, and the cart's terminal transition commit or fail as one.
type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByKey(ctx context.Context, userID uuid.UUID, key string) (*domain.Order, error)
	CountCompletedByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	Create(ctx context.Context, order *domain.Order, couponID *uuid.UUID) (*domain.Order, bool, error)
}

// CreateOrderParams describes an order-creation request. Items come from
// the locked cart, never from the request body; the lock exists precisely
// so the paid-for contents cannot diverge from the cart.
type CreateOrderParams struct {
	CartToken      string
	IdempotencyKey string
	AddressID      string
	PaymentMethod  string
}

// OrderService creates and reads orders.
type OrderService interface {
	// Create returns the order and whether this call replayed an earlier
	// creation for the same idempotency key.
	Create(ctx context.Context, userID uuid.UUID, params CreateOrderParams) (*domain.Order, bool, error)
	Get(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error)
}

type orderService struct {
	orders  OrderStore
	carts   CartStore
	pricer  pricing.Resolver
	shipper *shipping.Estimator
	taxer   tax.Calculator
	events  events.Publisher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewOrderService creates an OrderService.
func NewOrderService(
	orders OrderStore,
	carts CartStore,
	pricer pricing.Resolver,
	shipper *shipping.Estimator,
	taxer tax.Calculator,
	publisher events.Publisher,
	logger zerolog.Logger,
) OrderService {
	return &orderService{
		orders:  orders,
		carts:   carts,
		pricer:  pricer,
		shipper: shipper,
		taxer:   taxer,
		events:  publisher,
		logger:  logger,
		now:     time.Now,
	}
}

// Create produces exactly one order per (user, idempotency key). A replayed
// key returns the original order unchanged; no side effects run twice.
func (s *orderService) Create(ctx context.Context, userID uuid.UUID, params CreateOrderParams) (*domain.Order, bool, error) {
	if params.IdempotencyKey == "" {
		return nil, false, ErrMissingIdempotencyKey
	}

	existing, err := s.orders.GetByKey(ctx, userID, params.IdempotencyKey)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, domain.Internal(err, "order.create", "failed to look up idempotency key")
	}

	if params.CartToken == "" {
		return nil, false, domain.Invalid("order.create", "Cart ID is required")
	}
	if params.AddressID == "" {
		return nil, false, domain.Invalid("order.create", "Address ID is required")
	}
	if params.PaymentMethod == "" {
		return nil, false, domain.Invalid("order.create", "Payment method is required")
	}

	cart, err := s.carts.GetByToken(ctx, params.CartToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrCartNotFound
		}
		return nil, false, domain.Internal(err, "order.create", "failed to load cart")
	}

	if !cart.OwnedBy(userID) {
		return nil, false, ErrNotCartOwner
	}
	if cart.Status != domain.CartStatusCheckout {
		return nil, false, ErrCartNotLocked
	}

	now := s.now()
	if cart.CheckoutExpiry == nil || !now.Before(*cart.CheckoutExpiry) {
		// Distinct from "not locked": the client held a lock and ran out
		// the window. A fresh start-checkout call can re-lock.
		return nil, false, ErrCheckoutExpired
	}
	if len(cart.Items) == 0 {
		return nil, false, ErrEmptyCart
	}

	order, couponID, err := s.buildOrder(ctx, userID, cart, params, now)
	if err != nil {
		return nil, false, err
	}

	created, wasCreated, err := s.orders.Create(ctx, order, couponID)
	if err != nil {
		if errors.Is(err, domain.ErrCheckoutLockLost) {
			return nil, false, ErrCartNotLocked
		}
		return nil, false, domain.Internal(err, "order.create", "failed to create order")
	}
	if !wasCreated {
		// A concurrent request with the same key won the insert race.
		return created, true, nil
	}

	s.publish(ctx, events.SubjectOrderCreated, events.OrderCreated{
		OrderID:     created.ID.String(),
		OrderNumber: created.OrderNumber,
		UserID:      userID.String(),
		TotalCents:  created.TotalCents,
	})

	return created, false, nil
}

// Get returns an order to its owner.
func (s *orderService) Get(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, domain.Internal(err, "order.get", "failed to load order")
	}
	if order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// buildOrder freezes the locked cart into an order: items snapshot prices
// resolved now, totals follow the same recompute rules the cart uses.
func (s *orderService) buildOrder(ctx context.Context, userID uuid.UUID, cart *domain.Cart, params CreateOrderParams, now time.Time) (*domain.Order, *uuid.UUID, error) {
	items := make([]domain.OrderItem, 0, len(cart.Items))
	lines := make([]domain.PricedLine, 0, len(cart.Items))

	for _, item := range cart.Items {
		quote, err := s.pricer.ResolvePrice(ctx, item.ProductID, item.VariantID)
		if err != nil {
			if errors.Is(err, pricing.ErrPriceNotFound) {
				return nil, nil, ErrPriceNotFound
			}
			return nil, nil, domain.Internal(err, "order.create", "failed to resolve price")
		}

		items = append(items, domain.OrderItem{
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			Title:          item.Title,
			SKU:            item.SKU,
			Quantity:       item.Quantity,
			UnitCents:      quote.UnitCents,
			EffectiveCents: quote.EffectiveCents(),
		})
		lines = append(lines, domain.PricedLine{
			Item:           item,
			UnitCents:      quote.UnitCents,
			EffectiveCents: quote.EffectiveCents(),
		})
	}

	m := domain.PriceLines(lines)

	var discount int64
	var couponCode string
	var couponID *uuid.UUID
	if cart.Coupon != nil {
		discount = domain.ClampDiscount(cart.Coupon.DiscountCents, m.SubtotalCents)
		couponCode = cart.Coupon.Code
		id := cart.Coupon.CouponID
		couponID = &id
	}

	after := m.AfterDiscount(discount)
	shippingCents := s.shipper.Estimate(after)
	taxCents := s.taxer.Calculate(after)
	totals := domain.ComputeTotals(lines, discount, shippingCents, taxCents)

	number, err := newOrderNumber(now)
	if err != nil {
		return nil, nil, domain.Internal(err, "order.create", "failed to generate order number")
	}

	return &domain.Order{
		OrderNumber:    number,
		UserID:         userID,
		CartID:         cart.ID,
		CartToken:      cart.Token,
		Status:         domain.OrderStatusPending,
		Items:          items,
		AddressID:      params.AddressID,
		PaymentMethod:  params.PaymentMethod,
		SubtotalCents:  totals.SubtotalCents,
		DiscountCents:  discount,
		ShippingCents:  totals.ShippingCents,
		TaxCents:       totals.TaxCents,
		TotalCents:     totals.TotalCents,
		CouponCode:     couponCode,
		IdempotencyKey: params.IdempotencyKey,
	}, couponID, nil
}

func (s *orderService) publish(ctx context.Context, subject string, event any) {
	if err := s.events.Publish(ctx, subject, event); err != nil {
		s.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}
