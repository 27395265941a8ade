package messages

import "time"

// JobProgressed is published after every processing slice.
type JobProgressed struct {
	JobID          uint64     `json:"job_id"`
	Status         string     `json:"status"`
	TotalCount     int32      `json:"total_count"`
	ProcessedCount int32      `json:"processed_count"`
	ErrorCount     int32      `json:"error_count"`
	LastError      *string    `json:"last_error,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// ShipmentSynced is published once a shipment gets its external fulfillment.
type ShipmentSynced struct {
	ShipmentID    uint64    `json:"shipment_id"`
	OrderID       uint64    `json:"order_id"`
	FulfillmentID int64     `json:"fulfillment_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// FulfillmentOrderReady is consumed from the webhook relay when the external
// system reports a fulfillment order became available or was re-opened.
type FulfillmentOrderReady struct {
	ShopDomain     string `json:"shop_domain"`
	ShopifyOrderID int64  `json:"shopify_order_id"`
}
