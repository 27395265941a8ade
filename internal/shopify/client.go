package shopify

import "context"

// FulfillmentOrderSnapshot is what the external API currently considers
// left to ship for one fulfillment order.
type FulfillmentOrderSnapshot struct {
	ID     int64
	Status string
	Lines  []FulfillmentOrderLine
}

type FulfillmentOrderLine struct {
	LineItemID                 int64
	FulfillmentOrderLineItemID int64
	RemainingQuantity          int32
}

type TrackingInfo struct {
	Number  string
	Company string
	URL     string
}

type FulfillmentLine struct {
	FulfillmentOrderLineItemID int64
	Quantity                   int32
}

type CreateFulfillmentInput struct {
	FulfillmentOrderID int64
	Lines              []FulfillmentLine
	Tracking           TrackingInfo
	NotifyCustomer     bool
}

type Client interface {
	// FetchFulfillmentOrders returns an empty slice when the order has no
	// fulfillment orders yet. Callers treat that as "not ready", not an error.
	FetchFulfillmentOrders(ctx context.Context, shop, token string, orderID int64) ([]FulfillmentOrderSnapshot, error)
	CreateFulfillment(ctx context.Context, shop, token string, in CreateFulfillmentInput) (int64, error)
	// UpdateTracking is idempotent; re-sending the same tracking number is safe.
	UpdateTracking(ctx context.Context, shop, token string, fulfillmentID int64, tr TrackingInfo) error
	CancelFulfillment(ctx context.Context, shop, token string, fulfillmentID int64) error
}
