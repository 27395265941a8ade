package models

import "time"

// sync_status of a shipment against the external fulfillment API.
// "pending" means the fulfillment order has not materialized yet and
// we are waiting it out, not that anything went wrong.
const (
	SyncStatusPending    = "pending"
	SyncStatusProcessing = "processing"
	SyncStatusSynced     = "synced"
	SyncStatusError      = "error"
	SyncStatusCancelled  = "cancelled"
)

type Shipment struct {
	ID                   uint64
	OrderID              uint64
	VendorID             uint64
	TrackingNumber       string
	TrackingCompany      string
	TrackingURL          *string
	Carrier              string
	Status               string
	ShopifyFulfillmentID *int64
	SyncStatus           string
	SyncError            *string
	SyncRetryCount       int32
	SyncPendingUntil     *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ShipmentLineItem is the shipment<->line-item pivot. Quantity is what the
// vendor asked to ship on this shipment for that line.
type ShipmentLineItem struct {
	ShipmentID                 uint64
	LineItemID                 uint64
	Quantity                   int32
	FulfillmentOrderLineItemID *int64
}

type LineItem struct {
	ID                         uint64
	OrderID                    uint64
	VendorID                   uint64
	ShopifyLineItemID          int64
	FulfillmentOrderLineItemID *int64
	Quantity                   int32
	FulfilledQuantity          int32
	FulfillableQuantity        int32
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

type Order struct {
	ID                        uint64
	ShopDomain                string
	ShopifyOrderID            int64
	ShopifyFulfillmentOrderID *int64
	ShopifyFOStatus           *string
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// ShopConnection holds the per-shop API credential.
type ShopConnection struct {
	ShopDomain  string
	AccessToken string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
