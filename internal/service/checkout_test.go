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

func TestStartCheckoutLocksCart(t *testing.T) {
	f := newFixture()
	f.pricer.Set("p1", "", pricing.Quote{UnitCents: 500})
	ctx := context.Background()
	userID := uuid.New()

	cart, _, err := f.cart.AddItem(ctx, Ref{UserID: &userID}, AddItemParams{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	session, err := f.checkout.Start(ctx, Ref{Token: cart.Token, UserID: &userID})
	require.NoError(t, err)

	assert.NotEmpty(t, session.CheckoutToken)
	assert.True(t, session.ExpiresAt.After(time.Now()))
	assert.Equal(t, domain.CartStatusCheckout, session.Cart.Status)

	stored, err := f.carts.GetByID(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CartStatusCheckout, stored.Status)
	assert.Equal(t, session.CheckoutToken, stored.CheckoutToken)

	assert.Equal(t, 1, f.pub.published("sindri.checkout.started"))
}

func TestStartCheckoutIsIdempotentWhileLockLive(t *testing.T) {
	f := newFixture()
	f.pricer.Set("p1", "", pricing.Quote{UnitCents: 500})
	ctx := context.Background()
	userID := uuid.New()

	cart, _, err := f.cart.AddItem(ctx, Ref{UserID: &userID}, AddItemParams{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	ref := Ref{Token: cart.Token, UserID: &userID}

	first, err := f.checkout.Start(ctx, ref)
	require.NoError(t, err)

	second, err := f.checkout.Start(ctx, ref)
	require.NoError(t, err)

	assert.Equal(t, first.CheckoutToken, second.CheckoutToken)
	assert.Equal(t, first.ExpiresAt.Unix(), second.ExpiresAt.Unix())
	assert.Equal(t, 1, f.pub.published("sindri.checkout.started"))
}

func TestStartCheckoutMutualExclusion(t *testing.T) {
	f := newFixture()
	f.pricer.Set("p1", "", pricing.Quote{UnitCents: 500})
	ctx := context.Background()
	userID := uuid.New()

	cart, _, err := f.cart.AddItem(ctx, Ref{UserID: &userID}, AddItemParams{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	ref := Ref{Token: cart.Token, UserID: &userID}

	const callers = 8
	tokens := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, err := f.checkout.Start(ctx, ref)
			if err == nil {
				tokens[i] = session.CheckoutToken
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	// Every successful caller holds the same token; nobody got a second
	// independent lock.
	var winner string
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], ErrCheckoutConflict)
			continue
		}
		if winner == "" {
			winner = tokens[i]
		}
		assert.Equal(t, winner, tokens[i])
	}
	require.NotEmpty(t, winner)

	stored, err := f.carts.GetByID(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, stored.CheckoutToken)
}

func TestStartCheckoutClaimsOwnerlessCart(t *testing.T) {
	f := newFixture()
	f.pricer.Set("p1", "", pricing.Quote{UnitCents: 500})
	ctx := context.Background()
	userID := uuid.New()

	guest, _, err := f.cart.AddItem(ctx, Ref{}, AddItemParams{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	require.Nil(t, guest.UserID)

	session, err := f.checkout.Start(ctx, Ref{Token: guest.Token, UserID: &userID})
	require.NoError(t, err)

	require.NotNil(t, session.Cart.UserID)
	assert.Equal(t, userID, *session.Cart.UserID)

	stored, err := f.carts.GetByID(ctx, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, userID, *stored.UserID)
}

func TestStartCheckoutCreatesCartWhenNoneResolves(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := uuid.New()

	session, err := f.checkout.Start(ctx, Ref{UserID: &userID})
	require.NoError(t, err)

	assert.NotEmpty(t, session.Cart.Token)
	assert.Equal(t, domain.CartStatusCheckout, session.Cart.Status)
	assert.Equal(t, userID, *session.Cart.UserID)
}

func TestStartCheckoutRejectsForeignExplicitCart(t *testing.T) {
	f := newFixture()
	f.pricer.Set("p1", "", pricing.Quote{UnitCents: 500})
	ctx := context.Background()
	owner := uuid.New()
	caller := uuid.New()

	foreign, _, err := f.cart.AddItem(ctx, Ref{UserID: &owner}, AddItemParams{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	_, err = f.checkout.Start(ctx, Ref{Token: foreign.Token, UserID: &caller})
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestStartCheckoutRequiresAuth(t *testing.T) {
	f := newFixture()

	_, err := f.checkout.Start(context.Background(), Ref{Token: "whatever"})
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
}

func TestStartCheckoutRelocksAfterExpiry(t *testing.T) {
	f := newFixture()
	f.pricer.Set("p1", "", pricing.Quote{UnitCents: 500})
	ctx := context.Background()
	userID := uuid.New()

	cart, _, err := f.cart.AddItem(ctx, Ref{UserID: &userID}, AddItemParams{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	ref := Ref{Token: cart.Token, UserID: &userID}

	first, err := f.checkout.Start(ctx, ref)
	require.NoError(t, err)

	// Force the lock past its window.
	expired := time.Now().Add(-time.Minute)
	started := expired.Add(-5 * time.Minute)
	f.carts.mu.Lock()
	stored := f.carts.carts[cart.ID]
	stored.CheckoutStartedAt = &started
	stored.CheckoutExpiry = &expired
	f.carts.mu.Unlock()

	second, err := f.checkout.Start(ctx, ref)
	require.NoError(t, err)

	assert.NotEqual(t, first.CheckoutToken, second.CheckoutToken)
	assert.True(t, second.ExpiresAt.After(time.Now()))
}
