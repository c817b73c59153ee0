package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/fortressi/resourcesaga"
)

var _ resourcesaga.OrderGateway = (*Client)(nil)

const orderAlreadyExists = "order_already_exists"

// CreateOrder posts req to the order service. A 400 or 409 answer whose
// body names order_already_exists is a business result, not an error.
func (c *Client) CreateOrder(ctx context.Context, req resourcesaga.OrderRequest) (resourcesaga.CreateOrderResult, error) {
	var resp resourcesaga.OrderResponse
	err := c.doJSON(ctx, http.MethodPost, endpoint(c.orderURL, "api", "v1", "orders"), req, &resp)
	if err != nil {
		if alreadyExists(err) {
			return resourcesaga.CreateOrderResult{Status: resourcesaga.OrderAlreadyExists}, nil
		}
		return resourcesaga.CreateOrderResult{}, err
	}
	return resourcesaga.CreateOrderResult{Status: resourcesaga.OrderCreated, Response: resp}, nil
}

func (c *Client) DeleteOrder(ctx context.Context, externalOrderID string) error {
	return c.doJSON(ctx, http.MethodDelete, endpoint(c.orderURL, "api", "v1", "orders", externalOrderID), nil, nil)
}

func alreadyExists(err error) bool {
	return (IsStatus(err, http.StatusBadRequest) || IsStatus(err, http.StatusConflict)) &&
		strings.Contains(err.Error(), orderAlreadyExists)
}
