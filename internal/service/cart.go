package service

import (
	"context"
	"errors"
	"fmt"
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

// CartStore is the persistence surface the cart service depends on.
// All conditional writes return a matched flag instead of an error so the
// service can decide what the lost race means for the caller.
type CartStore interface {
	Create(ctx context.Context, cart *domain.Cart) error
	GetByToken(ctx context.Context, token string) (*domain.Cart, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Cart, error)
	GetLiveByUser(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	SaveContents(ctx context.Context, cartID uuid.UUID, items []domain.CartItem, coupon *domain.AppliedCoupon, totals domain.Totals) (bool, error)
	Claim(ctx context.Context, cartID, userID uuid.UUID) (bool, error)
	AcquireCheckoutLock(ctx context.Context, cartID uuid.UUID, token string, startedAt, expiry time.Time) (bool, error)
	Delete(ctx context.Context, cartID uuid.UUID) error
}

// CouponStore reads coupon rules.
type CouponStore interface {
	GetByCode(ctx context.Context, code string) (*domain.CouponRule, error)
}

// OrderCounter reports how many orders a user has completed. Used by the
// new-customers-only coupon rule.
type OrderCounter interface {
	CountCompletedByUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Ref is the cart identity a request carries: an explicit token (header),
// a cookie token, and the authenticated user, in that precedence order.
type Ref struct {
	Token       string
	CookieToken string
	UserID      *uuid.UUID
}

// Resolution tells the handler what to do with the cart cookie after an
// operation: set it for a freshly created cart, or clear it when it pointed
// at a cart the caller can no longer use.
type Resolution struct {
	Created     bool
	ClearCookie bool
}

// AddItemParams describes a line to add. Display fields are snapshots for
// UI stability; the price is always resolved live.
type AddItemParams struct {
	ProductID  string
	VariantID  string
	Quantity   int
	Title      string
	Image      string
	SKU        string
	Attributes map[string]string
}

// CartService provides business logic for cart operations.
type CartService interface {
	Create(ctx context.Context, ref Ref) (*domain.Cart, Resolution, error)
	Resolve(ctx context.Context, ref Ref) (*domain.Cart, Resolution, error)
	AddItem(ctx context.Context, ref Ref, params AddItemParams) (*domain.Cart, Resolution, error)
	UpdateItemQuantity(ctx context.Context, ref Ref, itemID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, ref Ref, itemID string) (*domain.Cart, error)
	Clear(ctx context.Context, ref Ref) (*domain.Cart, error)
	ApplyCoupon(ctx context.Context, ref Ref, code string) (*domain.Cart, error)
	RemoveCoupon(ctx context.Context, ref Ref) (*domain.Cart, error)
	Merge(ctx context.Context, ref Ref) (*domain.Cart, Resolution, error)
}

type cartService struct {
	store   CartStore
	coupons CouponStore
	orders  OrderCounter
	pricer  pricing.Resolver
	shipper *shipping.Estimator
	taxer   tax.Calculator
	events  events.Publisher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewCartService creates a CartService.
func NewCartService(
	store CartStore,
	coupons CouponStore,
	orders OrderCounter,
	pricer pricing.Resolver,
	shipper *shipping.Estimator,
	taxer tax.Calculator,
	publisher events.Publisher,
	logger zerolog.Logger,
) CartService {
	return &cartService{
		store:   store,
		coupons: coupons,
		orders:  orders,
		pricer:  pricer,
		shipper: shipper,
		taxer:   taxer,
		events:  publisher,
		logger:  logger,
		now:     time.Now,
	}
}

// Create returns the caller's resolved cart or creates a new one. When the
// request supplies an unused token, the new cart is created under that token
// so retried create calls are idempotent.
func (s *cartService) Create(ctx context.Context, ref Ref) (*domain.Cart, Resolution, error) {
	cart, res, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, res, err
	}
	if cart != nil {
		return cart, res, nil
	}

	token := ""
	if ref.Token != "" {
		_, err := s.store.GetByToken(ctx, ref.Token)
		if errors.Is(err, pgx.ErrNoRows) {
			token = ref.Token
		} else if err != nil {
			return nil, res, domain.Internal(err, "cart.create", "failed to check cart token")
		}
		// token exists but resolution rejected it: mint a fresh one
	}

	cart, err = s.createCart(ctx, token, ref.UserID)
	if err != nil {
		return nil, res, err
	}

	res.Created = true
	return cart, res, nil
}

// Resolve finds the caller's cart without creating one. Totals are served
// from live pricing, not from the values stored at the last mutation.
func (s *cartService) Resolve(ctx context.Context, ref Ref) (*domain.Cart, Resolution, error) {
	cart, res, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, res, err
	}
	if cart == nil {
		return nil, res, ErrCartNotFound
	}
	if err := s.refresh(ctx, cart); err != nil {
		return nil, res, err
	}
	return cart, res, nil
}

// refresh recomputes totals on the read path so a catalog price change shows
// up on the next read, not the next mutation. Checkout-locked and terminal
// carts keep their stored totals: their contents are frozen. The refreshed
// totals are written back best-effort; a lost write just means the next read
// recomputes again.
func (s *cartService) refresh(ctx context.Context, cart *domain.Cart) error {
	if cart.Status != domain.CartStatusActive || len(cart.Items) == 0 {
		return nil
	}

	if err := s.recompute(ctx, cart); err != nil {
		if errors.Is(err, ErrPriceNotFound) {
			// A line's catalog entry vanished. Serve the stored totals
			// rather than hiding the whole cart from its owner.
			s.logger.Warn().Str("cart", cart.Token).Msg("cart line lost its price, serving stored totals")
			return nil
		}
		return err
	}

	if _, err := s.store.SaveContents(ctx, cart.ID, cart.Items, cart.Coupon, cart.Totals); err != nil {
		s.logger.Error().Err(err).Str("cart", cart.Token).Msg("failed to write refreshed totals")
	}
	return nil
}

// AddItem adds a product to the cart, creating the cart lazily, and merges
// quantity onto an existing line for the same product/variant pair.
func (s *cartService) AddItem(ctx context.Context, ref Ref, params AddItemParams) (*domain.Cart, Resolution, error) {
	if params.ProductID == "" {
		return nil, Resolution{}, ErrMissingProduct
	}
	if params.Quantity < 1 {
		return nil, Resolution{}, ErrInvalidQuantity
	}

	// Reject unknown products before touching the cart.
	if _, err := s.pricer.ResolvePrice(ctx, params.ProductID, params.VariantID); err != nil {
		if errors.Is(err, pricing.ErrPriceNotFound) {
			return nil, Resolution{}, ErrPriceNotFound
		}
		return nil, Resolution{}, domain.Internal(err, "cart.addItem", "failed to resolve price")
	}

	cart, res, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, res, err
	}
	if cart == nil {
		cart, err = s.createCart(ctx, "", ref.UserID)
		if err != nil {
			return nil, res, err
		}
		res.Created = true
	}

	if cart.Status == domain.CartStatusCheckout {
		return nil, res, ErrCartCheckoutLocked
	}

	line := domain.CartItem{
		ID:         uuid.NewString(),
		ProductID:  params.ProductID,
		VariantID:  params.VariantID,
		Quantity:   params.Quantity,
		Title:      params.Title,
		Image:      params.Image,
		SKU:        params.SKU,
		Attributes: params.Attributes,
	}

	merged := false
	for i := range cart.Items {
		if cart.Items[i].SameProduct(line) {
			cart.Items[i].Quantity += params.Quantity
			merged = true
			break
		}
	}
	if !merged {
		cart.Items = append(cart.Items, line)
	}

	cart, err = s.persist(ctx, "cart.addItem", cart)
	return cart, res, err
}

// UpdateItemQuantity sets a line's quantity. Zero or less removes the line;
// a line id not present in the cart is an error.
func (s *cartService) UpdateItemQuantity(ctx context.Context, ref Ref, itemID string, quantity int) (*domain.Cart, error) {
	cart, err := s.resolveForMutation(ctx, ref)
	if err != nil {
		return nil, err
	}

	idx := cart.FindItem(itemID)
	if idx < 0 {
		return nil, ErrItemNotFound
	}

	if quantity <= 0 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	} else {
		cart.Items[idx].Quantity = quantity
	}

	return s.persist(ctx, "cart.updateItem", cart)
}

// RemoveItem removes a line. Removing an absent line is a no-op.
func (s *cartService) RemoveItem(ctx context.Context, ref Ref, itemID string) (*domain.Cart, error) {
	cart, err := s.resolveForMutation(ctx, ref)
	if err != nil {
		return nil, err
	}

	idx := cart.FindItem(itemID)
	if idx < 0 {
		return cart, nil
	}

	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	return s.persist(ctx, "cart.removeItem", cart)
}

// Clear empties the cart and zeroes totals. The coupon goes with the items;
// there is nothing left for it to discount.
func (s *cartService) Clear(ctx context.Context, ref Ref) (*domain.Cart, error) {
	cart, err := s.resolveForMutation(ctx, ref)
	if err != nil {
		return nil, err
	}

	cart.Items = []domain.CartItem{}
	cart.Coupon = nil
	return s.persist(ctx, "cart.clear", cart)
}

// ApplyCoupon validates every coupon rule and attaches the coupon snapshot.
// Each failing rule returns its own specific message.
func (s *cartService) ApplyCoupon(ctx context.Context, ref Ref, code string) (*domain.Cart, error) {
	if code == "" {
		return nil, domain.Invalid("cart.applyCoupon", "Coupon code is required")
	}

	cart, err := s.resolveForMutation(ctx, ref)
	if err != nil {
		return nil, err
	}

	rule, err := s.coupons.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, domain.Internal(err, "cart.applyCoupon", "failed to load coupon")
	}

	now := s.now()
	if !rule.Active {
		return nil, ErrCouponInactive
	}
	if rule.StartsAt != nil && now.Before(*rule.StartsAt) {
		return nil, ErrCouponNotStarted
	}
	if rule.EndsAt != nil && now.After(*rule.EndsAt) {
		return nil, ErrCouponExpired
	}
	if !rule.HasHeadroom() {
		return nil, ErrCouponExhausted
	}
	if rule.NewUsersOnly {
		if ref.UserID == nil {
			return nil, ErrCouponRequiresAuth
		}
		n, err := s.orders.CountCompletedByUser(ctx, *ref.UserID)
		if err != nil {
			return nil, domain.Internal(err, "cart.applyCoupon", "failed to count orders")
		}
		if n > 0 {
			return nil, ErrCouponNewUsersOnly
		}
	}

	// The minimum-value check runs on item totals after per-item discounts,
	// before shipping.
	lines, err := s.priceLines(ctx, cart.Items)
	if err != nil {
		return nil, err
	}
	eligible := domain.PriceLines(lines).EffectiveCents
	if rule.MinCartValueCents > 0 && eligible < rule.MinCartValueCents {
		return nil, errCouponMinValue(rule.MinCartValueCents)
	}

	cart.Coupon = &domain.AppliedCoupon{
		Code:          rule.Code,
		CouponID:      rule.ID,
		DiscountCents: rule.DiscountFor(eligible),
	}

	return s.persist(ctx, "cart.applyCoupon", cart)
}

// RemoveCoupon detaches any applied coupon.
func (s *cartService) RemoveCoupon(ctx context.Context, ref Ref) (*domain.Cart, error) {
	cart, err := s.resolveForMutation(ctx, ref)
	if err != nil {
		return nil, err
	}

	cart.Coupon = nil
	return s.persist(ctx, "cart.removeCoupon", cart)
}

// Merge reconciles the caller's guest cart with their authenticated
// identity. If the user already has a live cart the guest items merge into
// it and the guest cart is deleted only after the destination write is
// durable; otherwise ownership flips in place.
func (s *cartService) Merge(ctx context.Context, ref Ref) (*domain.Cart, Resolution, error) {
	var res Resolution
	if ref.UserID == nil {
		return nil, res, domain.Unauthorized("cart.merge", "Authentication required")
	}
	userID := *ref.UserID

	token := ref.Token
	if token == "" {
		token = ref.CookieToken
	}
	if token == "" {
		return s.userCartOrNotFound(ctx, userID, res)
	}

	guest, err := s.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.userCartOrNotFound(ctx, userID, res)
		}
		return nil, res, domain.Internal(err, "cart.merge", "failed to load cart")
	}

	if guest.Status.Terminal() {
		res.ClearCookie = true
		return s.userCartOrNotFound(ctx, userID, res)
	}

	if guest.OwnedBy(userID) {
		return guest, res, nil
	}

	// Someone else's cart: refuse without leaking its contents.
	if guest.UserID != nil {
		res.ClearCookie = true
		return s.userCartOrNotFound(ctx, userID, res)
	}

	dest, err := s.store.GetLiveByUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, res, domain.Internal(err, "cart.merge", "failed to load user cart")
		}
		return s.assign(ctx, guest, userID, res)
	}

	return s.merge(ctx, guest, dest, userID, res)
}

// assign flips ownership on an ownerless guest cart in place.
func (s *cartService) assign(ctx context.Context, guest *domain.Cart, userID uuid.UUID, res Resolution) (*domain.Cart, Resolution, error) {
	ok, err := s.store.Claim(ctx, guest.ID, userID)
	if err != nil {
		return nil, res, domain.Internal(err, "cart.merge", "failed to claim cart")
	}
	if !ok {
		// Lost the claim race. If this user won it through another request
		// the cart is still theirs; otherwise it is gone for this caller.
		current, err := s.store.GetByID(ctx, guest.ID)
		if err != nil || !current.OwnedBy(userID) {
			res.ClearCookie = true
			return s.userCartOrNotFound(ctx, userID, res)
		}
		guest = current
	} else {
		guest.UserID = &userID
	}

	s.publish(ctx, events.SubjectCartMerged, events.CartMerged{
		SourceCartID: guest.Token,
		TargetCartID: guest.Token,
		UserID:       userID.String(),
	})

	return guest, res, nil
}

// merge folds the guest cart's lines into the user's existing cart.
func (s *cartService) merge(ctx context.Context, guest, dest *domain.Cart, userID uuid.UUID, res Resolution) (*domain.Cart, Resolution, error) {
	if guest.ID == dest.ID {
		return dest, res, nil
	}
	if guest.Status == domain.CartStatusCheckout || dest.Status == domain.CartStatusCheckout {
		return nil, res, ErrCartCheckoutLocked
	}

	for _, item := range guest.Items {
		merged := false
		for i := range dest.Items {
			if dest.Items[i].SameProduct(item) {
				dest.Items[i].Quantity += item.Quantity
				merged = true
				break
			}
		}
		if !merged {
			line := item
			line.ID = uuid.NewString()
			dest.Items = append(dest.Items, line)
		}
	}

	if dest.Coupon == nil {
		dest.Coupon = guest.Coupon
	}

	dest, err := s.persist(ctx, "cart.merge", dest)
	if err != nil {
		return nil, res, err
	}

	// The destination write is durable; only now is the source discarded.
	if err := s.store.Delete(ctx, guest.ID); err != nil {
		s.logger.Error().Err(err).Str("cart_token", guest.Token).
			Msg("failed to delete merged guest cart")
	}

	s.publish(ctx, events.SubjectCartMerged, events.CartMerged{
		SourceCartID: guest.Token,
		TargetCartID: dest.Token,
		UserID:       userID.String(),
	})

	return dest, res, nil
}

// resolve applies the identity resolution order: explicit header token,
// then the authenticated user's live cart, then the cookie token. A cart
// bound to a user is never handed out on a cookie alone.
func (s *cartService) resolve(ctx context.Context, ref Ref) (*domain.Cart, Resolution, error) {
	var res Resolution

	if ref.Token != "" {
		cart, err := s.store.GetByToken(ctx, ref.Token)
		if err == nil && cart.Status.Live() {
			return cart, res, nil
		}
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, res, domain.Internal(err, "cart.resolve", "failed to load cart")
		}
	}

	if ref.UserID != nil {
		cart, err := s.store.GetLiveByUser(ctx, *ref.UserID)
		if err == nil {
			return cart, res, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, res, domain.Internal(err, "cart.resolve", "failed to load user cart")
		}
	}

	if ref.CookieToken != "" {
		cart, err := s.store.GetByToken(ctx, ref.CookieToken)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return nil, res, domain.Internal(err, "cart.resolve", "failed to load cart")
			}
			return nil, res, nil
		}

		switch {
		case cart.Status == domain.CartStatusOrdered:
			res.ClearCookie = true
		case !cart.Status.Live():
			// abandoned: unusable, leave the cookie to age out
		case cart.UserID == nil:
			return cart, res, nil
		case ref.UserID != nil && cart.OwnedBy(*ref.UserID):
			return cart, res, nil
		default:
			// owned by someone else: a stale post-logout cookie must not
			// leak the previous user's cart on a shared device
			res.ClearCookie = true
		}
	}

	return nil, res, nil
}

// resolveForMutation resolves an existing cart and checks it accepts
// mutations. Checkout-locked carts reject changes so the total cannot
// drift out from under a payment being authorized against it.
func (s *cartService) resolveForMutation(ctx context.Context, ref Ref) (*domain.Cart, error) {
	cart, _, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, ErrCartNotFound
	}
	if cart.Status == domain.CartStatusCheckout {
		return nil, ErrCartCheckoutLocked
	}
	return cart, nil
}

func (s *cartService) userCartOrNotFound(ctx context.Context, userID uuid.UUID, res Resolution) (*domain.Cart, Resolution, error) {
	cart, err := s.store.GetLiveByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, res, ErrCartNotFound
		}
		return nil, res, domain.Internal(err, "cart.merge", "failed to load user cart")
	}
	return cart, res, nil
}

func (s *cartService) createCart(ctx context.Context, token string, userID *uuid.UUID) (*domain.Cart, error) {
	var err error
	if token == "" {
		token, err = newCartToken()
		if err != nil {
			return nil, domain.Internal(err, "cart.create", "failed to generate cart token")
		}
	}

	cart := &domain.Cart{
		Token:     token,
		UserID:    userID,
		Items:     []domain.CartItem{},
		Status:    domain.CartStatusActive,
		ExpiresAt: s.now().Add(domain.DefaultCartTTL),
	}

	if err := s.store.Create(ctx, cart); err != nil {
		return nil, domain.Internal(err, "cart.create", "failed to create cart")
	}

	return cart, nil
}

// persist recomputes totals from the item set just mutated and writes items,
// coupon, and totals in one conditional update. A write that matches nothing
// means the cart changed state under us; the re-read decides the error.
func (s *cartService) persist(ctx context.Context, op string, cart *domain.Cart) (*domain.Cart, error) {
	if err := s.recompute(ctx, cart); err != nil {
		return nil, err
	}

	ok, err := s.store.SaveContents(ctx, cart.ID, cart.Items, cart.Coupon, cart.Totals)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to save cart")
	}
	if !ok {
		current, err := s.store.GetByID(ctx, cart.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrCartNotFound
			}
			return nil, domain.Internal(err, op, "failed to reload cart")
		}
		if current.Status == domain.CartStatusCheckout {
			return nil, ErrCartCheckoutLocked
		}
		return nil, ErrCartNotFound
	}

	return cart, nil
}

// recompute derives totals from live prices. The stored coupon discount is
// re-clamped to the current subtotal on every pass.
func (s *cartService) recompute(ctx context.Context, cart *domain.Cart) error {
	lines, err := s.priceLines(ctx, cart.Items)
	if err != nil {
		return err
	}

	m := domain.PriceLines(lines)

	var discount int64
	if cart.Coupon != nil {
		discount = domain.ClampDiscount(cart.Coupon.DiscountCents, m.SubtotalCents)
		cart.Coupon.DiscountCents = discount
	}

	after := m.AfterDiscount(discount)
	shippingCents := s.shipper.Estimate(after)
	taxCents := s.taxer.Calculate(after)

	cart.Totals = domain.ComputeTotals(lines, discount, shippingCents, taxCents)
	return nil
}

func (s *cartService) priceLines(ctx context.Context, items []domain.CartItem) ([]domain.PricedLine, error) {
	lines := make([]domain.PricedLine, 0, len(items))
	for _, item := range items {
		quote, err := s.pricer.ResolvePrice(ctx, item.ProductID, item.VariantID)
		if err != nil {
			if errors.Is(err, pricing.ErrPriceNotFound) {
				return nil, ErrPriceNotFound
			}
			return nil, domain.Internal(err, "cart.recompute",
				fmt.Sprintf("failed to resolve price for product %s", item.ProductID))
		}
		lines = append(lines, domain.PricedLine{
			Item:           item,
			UnitCents:      quote.UnitCents,
			EffectiveCents: quote.EffectiveCents(),
		})
	}
	return lines, nil
}

func (s *cartService) publish(ctx context.Context, subject string, event any) {
	if err := s.events.Publish(ctx, subject, event); err != nil {
		s.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}
