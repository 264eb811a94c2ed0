package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/sindri/internal/cookie"
	"github.com/dukerupert/sindri/internal/domain"
	"github.com/dukerupert/sindri/internal/middleware"
	"github.com/dukerupert/sindri/internal/service"
)

// mockOrderService implements service.OrderService for testing.
type mockOrderService struct {
	createFunc func(ctx context.Context, userID uuid.UUID, params service.CreateOrderParams) (*domain.Order, bool, error)
	getFunc    func(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error)
}

func (m *mockOrderService) Create(ctx context.Context, userID uuid.UUID, params service.CreateOrderParams) (*domain.Order, bool, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, userID, params)
	}
	return nil, false, service.ErrCartNotFound
}

func (m *mockOrderService) Get(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, userID, orderID)
	}
	return nil, service.ErrOrderNotFound
}

func testOrderHandler(svc service.OrderService) *OrderHandler {
	return NewOrderHandler(svc, cookie.NewConfig(false), zerolog.Nop())
}

func TestCreateOrderFirstCallIs201(t *testing.T) {
	userID := uuid.New()
	orderID := uuid.New()
	svc := &mockOrderService{
		createFunc: func(ctx context.Context, gotUser uuid.UUID, params service.CreateOrderParams) (*domain.Order, bool, error) {
			assert.Equal(t, userID, gotUser)
			assert.Equal(t, "cart-1", params.CartToken)
			assert.Equal(t, "key-1", params.IdempotencyKey)
			return &domain.Order{ID: orderID, UserID: gotUser, Status: domain.OrderStatusPending}, false, nil
		},
	}

	c, rec := newTestContext(t, http.MethodPost, "/orders/create",
		`{"cartId":"cart-1","addressId":"addr-1","paymentMethod":"cod"}`)
	c.Request().Header.Set(IdempotencyKeyHeader, "key-1")
	middleware.SetUserID(c, userID)

	require.NoError(t, testOrderHandler(svc).Create(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		OrderID    uuid.UUID `json:"orderId"`
		Idempotent bool      `json:"idempotent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, orderID, resp.OrderID)
	assert.False(t, resp.Idempotent)
}

func TestCreateOrderReplayIs200(t *testing.T) {
	userID := uuid.New()
	orderID := uuid.New()
	svc := &mockOrderService{
		createFunc: func(ctx context.Context, gotUser uuid.UUID, params service.CreateOrderParams) (*domain.Order, bool, error) {
			return &domain.Order{ID: orderID, UserID: gotUser}, true, nil
		},
	}

	c, rec := newTestContext(t, http.MethodPost, "/orders/create",
		`{"cartId":"cart-1","addressId":"addr-1","paymentMethod":"cod"}`)
	c.Request().Header.Set(IdempotencyKeyHeader, "key-1")
	middleware.SetUserID(c, userID)

	require.NoError(t, testOrderHandler(svc).Create(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		OrderID    uuid.UUID `json:"orderId"`
		Idempotent bool      `json:"idempotent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, orderID, resp.OrderID)
	assert.True(t, resp.Idempotent)
}

func TestCreateOrderMissingKey(t *testing.T) {
	userID := uuid.New()
	svc := &mockOrderService{
		createFunc: func(ctx context.Context, gotUser uuid.UUID, params service.CreateOrderParams) (*domain.Order, bool, error) {
			return nil, false, service.ErrMissingIdempotencyKey
		},
	}

	c, rec := newTestContext(t, http.MethodPost, "/orders/create",
		`{"cartId":"cart-1","addressId":"addr-1","paymentMethod":"cod"}`)
	middleware.SetUserID(c, userID)

	require.NoError(t, testOrderHandler(svc).Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "MISSING_IDEMPOTENCY_KEY", resp.ErrorCode)
}

func TestCreateOrderUnauthenticated(t *testing.T) {
	c, rec := newTestContext(t, http.MethodPost, "/orders/create", `{}`)

	require.NoError(t, testOrderHandler(&mockOrderService{}).Create(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetOrder(t *testing.T) {
	userID := uuid.New()
	orderID := uuid.New()
	svc := &mockOrderService{
		getFunc: func(ctx context.Context, gotUser, gotOrder uuid.UUID) (*domain.Order, error) {
			assert.Equal(t, orderID, gotOrder)
			return &domain.Order{ID: gotOrder, UserID: gotUser}, nil
		},
	}

	c, rec := newTestContext(t, http.MethodGet, "/orders/"+orderID.String(), "")
	c.SetParamNames("id")
	c.SetParamValues(orderID.String())
	middleware.SetUserID(c, userID)

	require.NoError(t, testOrderHandler(svc).Get(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetOrderBadID(t *testing.T) {
	c, rec := newTestContext(t, http.MethodGet, "/orders/not-a-uuid", "")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	middleware.SetUserID(c, uuid.New())

	require.NoError(t, testOrderHandler(&mockOrderService{}).Get(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
