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
)

// CheckoutSession is the result of starting checkout: the locked cart and
// the token an order must present before the window closes.
type CheckoutSession struct {
	Cart          *domain.Cart
	CheckoutToken string
	ExpiresAt     time.Time
}

// CheckoutService acquires the checkout lock on a cart.
type CheckoutService interface {
	Start(ctx context.Context, ref Ref) (*CheckoutSession, error)
}

type checkoutService struct {
	store  CartStore
	events events.Publisher
	logger zerolog.Logger
	window time.Duration
	now    func() time.Time
}

// NewCheckoutService creates a CheckoutService. A non-positive window falls
// back to the default five minutes.
func NewCheckoutService(store CartStore, publisher events.Publisher, logger zerolog.Logger, window time.Duration) CheckoutService {
	if window <= 0 {
		window = domain.DefaultCheckoutWindow
	}
	return &checkoutService{
		store:  store,
		events: publisher,
		logger: logger,
		window: window,
		now:    time.Now,
	}
}

// Start transitions the caller's cart into checkout and returns the session
// token. Retried calls while the lock is live return the existing token
// unchanged; a concurrent caller that loses the compare-and-swap gets the
// winner's token when the winner is this same cart, or a conflict.
func (s *checkoutService) Start(ctx context.Context, ref Ref) (*CheckoutSession, error) {
	if ref.UserID == nil {
		return nil, domain.Unauthorized("checkout.start", "Authentication required")
	}
	userID := *ref.UserID

	cart, _, err := s.resolve(ctx, ref, userID)
	if err != nil {
		return nil, err
	}

	// Last point at which an anonymous cart may bind to a user before
	// money changes hands.
	if cart.UserID == nil {
		cart, err = s.claim(ctx, cart, userID)
		if err != nil {
			return nil, err
		}
	}
	if !cart.OwnedBy(userID) {
		return nil, ErrCartNotFound
	}

	now := s.now()

	// Idempotency short-circuit: a live lock answers retries with the same
	// token, never a fresh one.
	if cart.CheckoutLockLive(now) {
		return &CheckoutSession{
			Cart:          cart,
			CheckoutToken: cart.CheckoutToken,
			ExpiresAt:     *cart.CheckoutExpiry,
		}, nil
	}

	token, err := newCheckoutToken()
	if err != nil {
		return nil, domain.Internal(err, "checkout.start", "failed to generate checkout token")
	}
	expiry := now.Add(s.window)

	ok, err := s.store.AcquireCheckoutLock(ctx, cart.ID, token, now, expiry)
	if err != nil {
		return nil, domain.Internal(err, "checkout.start", "failed to acquire checkout lock")
	}
	if !ok {
		// Lost the race. If a concurrent request locked this same cart the
		// retry semantics still hold: hand back that token.
		current, err := s.store.GetByID(ctx, cart.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrCartNotFound
			}
			return nil, domain.Internal(err, "checkout.start", "failed to reload cart")
		}
		if current.OwnedBy(userID) && current.CheckoutLockLive(s.now()) {
			return &CheckoutSession{
				Cart:          current,
				CheckoutToken: current.CheckoutToken,
				ExpiresAt:     *current.CheckoutExpiry,
			}, nil
		}
		return nil, ErrCheckoutConflict
	}

	cart.Status = domain.CartStatusCheckout
	cart.CheckoutToken = token
	cart.CheckoutStartedAt = &now
	cart.CheckoutExpiry = &expiry

	s.publish(ctx, events.SubjectCheckoutStarted, events.CheckoutStarted{
		CartID:    cart.Token,
		UserID:    userID.String(),
		ExpiresAt: expiry.UTC().Format(time.RFC3339),
	})

	return &CheckoutSession{
		Cart:          cart,
		CheckoutToken: token,
		ExpiresAt:     expiry,
	}, nil
}

// resolve prefers the explicitly named cart (it may carry a coupon the
// user's default cart lacks), then the user's live cart, then the cookie,
// and finally creates a brand-new cart.
func (s *checkoutService) resolve(ctx context.Context, ref Ref, userID uuid.UUID) (*domain.Cart, bool, error) {
	if ref.Token != "" {
		cart, err := s.store.GetByToken(ctx, ref.Token)
		if err == nil && cart.Status.Live() {
			if cart.UserID == nil || cart.OwnedBy(userID) {
				return cart, false, nil
			}
			return nil, false, ErrCartNotFound
		}
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, domain.Internal(err, "checkout.start", "failed to load cart")
		}
	}

	cart, err := s.store.GetLiveByUser(ctx, userID)
	if err == nil {
		return cart, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, domain.Internal(err, "checkout.start", "failed to load user cart")
	}

	if ref.CookieToken != "" {
		cart, err := s.store.GetByToken(ctx, ref.CookieToken)
		if err == nil && cart.Status.Live() &&
			(cart.UserID == nil || cart.OwnedBy(userID)) {
			return cart, false, nil
		}
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, domain.Internal(err, "checkout.start", "failed to load cart")
		}
	}

	token, err := newCartToken()
	if err != nil {
		return nil, false, domain.Internal(err, "checkout.start", "failed to generate cart token")
	}

	fresh := &domain.Cart{
		Token:     token,
		UserID:    &userID,
		Items:     []domain.CartItem{},
		Status:    domain.CartStatusActive,
		ExpiresAt: s.now().Add(domain.DefaultCartTTL),
	}
	if err := s.store.Create(ctx, fresh); err != nil {
		return nil, false, domain.Internal(err, "checkout.start", "failed to create cart")
	}

	return fresh, true, nil
}

func (s *checkoutService) claim(ctx context.Context, cart *domain.Cart, userID uuid.UUID) (*domain.Cart, error) {
	ok, err := s.store.Claim(ctx, cart.ID, userID)
	if err != nil {
		return nil, domain.Internal(err, "checkout.start", "failed to claim cart")
	}
	if ok {
		cart.UserID = &userID
		return cart, nil
	}

	current, err := s.store.GetByID(ctx, cart.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, domain.Internal(err, "checkout.start", "failed to reload cart")
	}
	if !current.OwnedBy(userID) {
		return nil, ErrCartNotFound
	}
	return current, nil
}

func (s *checkoutService) publish(ctx context.Context, subject string, event any) {
	if err := s.events.Publish(ctx, subject, event); err != nil {
		s.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}
