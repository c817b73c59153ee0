package resourcesaga

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OrderRequest asks the order service to open an order for one item.
type OrderRequest struct {
	ExternalOrderID string          `json:"externalOrderId"`
	UserID          uuid.UUID       `json:"userId"`
	ItemID          uuid.UUID       `json:"itemId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

type OrderResponse struct {
	OrderID         string          `json:"orderId"`
	ExternalOrderID string          `json:"externalOrderId"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
}

// CreateOrderStatus classifies an answer of the order service.
type CreateOrderStatus int

const (
	OrderCreated CreateOrderStatus = iota
	OrderAlreadyExists
)

func (s CreateOrderStatus) String() string {
	switch s {
	case OrderCreated:
		return "created"
	case OrderAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// CreateOrderResult is a business answer of the order service. Transport
// and server failures are returned as errors instead.
type CreateOrderResult struct {
	Status   CreateOrderStatus
	Response OrderResponse
}

// OrderGateway talks to the order service.
type OrderGateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (CreateOrderResult, error)
	DeleteOrder(ctx context.Context, externalOrderID string) error
}

// PurchaseValidator decides whether a user may buy a course. It returns a
// *CourseNotPurchasableError for business rejections.
type PurchaseValidator interface {
	ValidatePurchase(ctx context.Context, userID, courseID uuid.UUID) error
}

// OrderSaga creates an order and deletes it again when creation fails
// for any reason other than the order already existing.
type OrderSaga struct {
	orders    OrderGateway
	validator PurchaseValidator
	logger    zerolog.Logger
}

type OrderSagaOption func(*OrderSaga)

// WithPurchaseValidator checks the purchase before the order is created.
// A rejection is returned as is and does not call DeleteOrder, even though
// every other failure of Run does: validation runs before any remote call.
func WithPurchaseValidator(v PurchaseValidator) OrderSagaOption {
	return func(s *OrderSaga) { s.validator = v }
}

func WithOrderLogger(l zerolog.Logger) OrderSagaOption {
	return func(s *OrderSaga) { s.logger = l }
}

func NewOrderSaga(orders OrderGateway, opts ...OrderSagaOption) *OrderSaga {
	s := &OrderSaga{orders: orders, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run creates the order described by req.
//
// An order that already exists yields *OrderAlreadyExistsError and is left
// alone. Any other failure triggers DeleteOrder and yields
// *OrderCreationRollbackError.
func (s *OrderSaga) Run(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	log := s.logger.With().
		Str("external_order_id", req.ExternalOrderID).
		Str("user_id", req.UserID.String()).
		Str("item_id", req.ItemID.String()).
		Logger()

	if s.validator != nil {
		if err := s.validator.ValidatePurchase(ctx, req.UserID, req.ItemID); err != nil {
			log.Warn().Err(err).Msg("purchase rejected")
			return OrderResponse{}, err
		}
	}

	res, err := s.orders.CreateOrder(ctx, req)
	if err == nil {
		switch res.Status {
		case OrderCreated:
			log.Info().Str("order_id", res.Response.OrderID).Msg("order created")
			return res.Response, nil
		case OrderAlreadyExists:
			log.Info().Msg("order already exists")
			return OrderResponse{}, &OrderAlreadyExistsError{ExternalOrderID: req.ExternalOrderID}
		}
		err = &unexpectedStatusError{status: res.Status}
	}

	log.Warn().Err(err).Msg("order creation failed, rolling back")
	if delErr := s.orders.DeleteOrder(context.WithoutCancel(ctx), req.ExternalOrderID); delErr != nil {
		log.Error().Err(delErr).AnErr("create_error", err).Msg("order rollback failed")
		return OrderResponse{}, &OrderCreationRollbackError{
			ExternalOrderID: req.ExternalOrderID,
			RollbackFailed:  true,
			CreateErr:       err,
			Err:             delErr,
		}
	}

	return OrderResponse{}, &OrderCreationRollbackError{
		ExternalOrderID: req.ExternalOrderID,
		CreateErr:       err,
		Err:             err,
	}
}

type unexpectedStatusError struct {
	status CreateOrderStatus
}

func (e *unexpectedStatusError) Error() string {
	return "unexpected order status " + e.status.String()
}
