package resourcesaga

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	result    CreateOrderResult
	createErr error
	deleteErr error
	created   int
	deleted   []string
}

func (f *fakeOrders) CreateOrder(_ context.Context, _ OrderRequest) (CreateOrderResult, error) {
	f.created++
	return f.result, f.createErr
}

func (f *fakeOrders) DeleteOrder(_ context.Context, externalOrderID string) error {
	f.deleted = append(f.deleted, externalOrderID)
	return f.deleteErr
}

type fakeValidator struct {
	err error
}

func (f fakeValidator) ValidatePurchase(context.Context, uuid.UUID, uuid.UUID) error {
	return f.err
}

func orderRequest() OrderRequest {
	return OrderRequest{
		ExternalOrderID: "ext-42",
		UserID:          uuid.New(),
		ItemID:          uuid.New(),
		Amount:          decimal.RequireFromString("19.99"),
		Currency:        "USD",
	}
}

func TestOrderSagaCreated(t *testing.T) {
	resp := OrderResponse{OrderID: "o-1", ExternalOrderID: "ext-42", Status: "NEW", Amount: decimal.RequireFromString("19.99")}
	orders := &fakeOrders{result: CreateOrderResult{Status: OrderCreated, Response: resp}}

	got, err := NewOrderSaga(orders, WithPurchaseValidator(fakeValidator{})).Run(context.Background(), orderRequest())
	require.NoError(t, err)

	assert.Equal(t, resp, got)
	assert.Empty(t, orders.deleted)
}

func TestOrderSagaAlreadyExistsNeverRollsBack(t *testing.T) {
	orders := &fakeOrders{result: CreateOrderResult{Status: OrderAlreadyExists}}

	_, err := NewOrderSaga(orders).Run(context.Background(), orderRequest())

	var existsErr *OrderAlreadyExistsError
	require.ErrorAs(t, err, &existsErr)
	assert.Equal(t, "ext-42", existsErr.ExternalOrderID)
	assert.Empty(t, orders.deleted)
}

func TestOrderSagaRollsBackOnFailure(t *testing.T) {
	orders := &fakeOrders{createErr: errRemoteDown}

	_, err := NewOrderSaga(orders).Run(context.Background(), orderRequest())

	var rbErr *OrderCreationRollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.False(t, rbErr.RollbackFailed)
	assert.ErrorIs(t, err, errRemoteDown)
	assert.Equal(t, []string{"ext-42"}, orders.deleted)
}

func TestOrderSagaRollsBackOnUnexpectedStatus(t *testing.T) {
	orders := &fakeOrders{result: CreateOrderResult{Status: CreateOrderStatus(7)}}

	_, err := NewOrderSaga(orders).Run(context.Background(), orderRequest())

	var rbErr *OrderCreationRollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.False(t, rbErr.RollbackFailed)
	assert.Contains(t, rbErr.CreateErr.Error(), "unexpected order status unknown")
	assert.Equal(t, 1, orders.created)
	assert.Equal(t, []string{"ext-42"}, orders.deleted)
}

func TestOrderSagaRollbackFailure(t *testing.T) {
	errGone := errors.New("order service gone")
	orders := &fakeOrders{createErr: errRemoteDown, deleteErr: errGone}

	var logs bytes.Buffer
	_, err := NewOrderSaga(orders, WithOrderLogger(zerolog.New(&logs))).Run(context.Background(), orderRequest())

	var rbErr *OrderCreationRollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.True(t, rbErr.RollbackFailed)
	assert.ErrorIs(t, err, errGone)
	assert.ErrorIs(t, rbErr.CreateErr, errRemoteDown)
	assert.Contains(t, logs.String(), "order rollback failed")
}

func TestOrderSagaRejectedPurchase(t *testing.T) {
	orders := &fakeOrders{}
	courseID := uuid.New()
	v := fakeValidator{err: &CourseNotPurchasableError{CourseID: courseID, Reason: "already purchased"}}

	_, err := NewOrderSaga(orders, WithPurchaseValidator(v)).Run(context.Background(), orderRequest())

	var npErr *CourseNotPurchasableError
	require.ErrorAs(t, err, &npErr)
	assert.Contains(t, err.Error(), "already purchased")
	assert.Zero(t, orders.created)
	assert.Empty(t, orders.deleted)
}
