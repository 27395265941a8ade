package pgjobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/bloomdesk/shipsync/internal/models"
)

const shipmentColumns = `
  id, order_id, vendor_id, tracking_number, tracking_company, tracking_url, carrier, status,
  shopify_fulfillment_id, sync_status, sync_error, sync_retry_count, sync_pending_until,
  created_at, updated_at`

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	if err := row.Scan(
		&sh.ID, &sh.OrderID, &sh.VendorID, &sh.TrackingNumber, &sh.TrackingCompany, &sh.TrackingURL, &sh.Carrier, &sh.Status,
		&sh.ShopifyFulfillmentID, &sh.SyncStatus, &sh.SyncError, &sh.SyncRetryCount, &sh.SyncPendingUntil,
		&sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sh, nil
}

func (s *Storage) CreateShipment(ctx context.Context, sh *models.Shipment) (*models.Shipment, error) {
	now := time.Now().UTC()
	created, err := scanShipment(s.db.QueryRow(ctx, `
INSERT INTO shipments (
  order_id, vendor_id, tracking_number, tracking_company, tracking_url, carrier, status, sync_status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,'shipped','processing',$7,$7)
RETURNING`+shipmentColumns, sh.OrderID, sh.VendorID, sh.TrackingNumber, sh.TrackingCompany, sh.TrackingURL, sh.Carrier, now))
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment")
	}
	return created, nil
}

func (s *Storage) GetShipment(ctx context.Context, shipmentID uint64) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT`+shipmentColumns+` FROM shipments WHERE id = $1`, shipmentID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

func (s *Storage) SetShipmentSynced(ctx context.Context, shipmentID uint64, fulfillmentID int64) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET shopify_fulfillment_id = $2, sync_status = 'synced', sync_error = NULL,
    sync_pending_until = NULL, updated_at = now()
WHERE id = $1
`, shipmentID, fulfillmentID)
	return errors.Wrap(err, "set shipment synced")
}

// SetShipmentSyncPending parks the shipment until the fulfillment order shows
// up externally. Not an error state: the deadline is when we will look again.
func (s *Storage) SetShipmentSyncPending(ctx context.Context, shipmentID uint64, until time.Time, retryCount int32) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET sync_status = 'pending', sync_error = NULL,
    sync_retry_count = $3, sync_pending_until = $2, updated_at = now()
WHERE id = $1
`, shipmentID, until.UTC(), retryCount)
	return errors.Wrap(err, "set shipment sync pending")
}

func (s *Storage) SetShipmentSyncError(ctx context.Context, shipmentID uint64, msg string) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET sync_status = 'error', sync_error = $2, sync_pending_until = NULL, updated_at = now()
WHERE id = $1
`, shipmentID, msg)
	return errors.Wrap(err, "set shipment sync error")
}

func (s *Storage) SetShipmentCancelled(ctx context.Context, shipmentID uint64) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipments
SET sync_status = 'cancelled', updated_at = now()
WHERE id = $1
`, shipmentID)
	return errors.Wrap(err, "set shipment cancelled")
}

// ClaimShipmentsDueForSync picks pending shipments whose backoff deadline has
// elapsed and pushes the deadline forward as a lease, so a crashed resync
// attempt surfaces again later instead of being lost.
func (s *Storage) ClaimShipmentsDueForSync(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+shipmentColumns+`
FROM shipments
WHERE sync_status = 'pending'
  AND sync_pending_until IS NOT NULL
  AND sync_pending_until <= $1
ORDER BY sync_pending_until ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due shipments")
	}
	defer rows.Close()

	var picked []*models.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due shipment")
		}
		picked = append(picked, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, sh := range picked {
		if _, err := tx.Exec(ctx, `UPDATE shipments SET sync_pending_until = $2, updated_at = now() WHERE id = $1`, sh.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease shipment")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// UpsertShipmentLineItem keeps the pivot idempotent on (shipment, line item).
// The quantity is set on first insert only; re-applying a snapshot refreshes
// the FO line-item id without clobbering what the vendor asked to ship.
func (s *Storage) UpsertShipmentLineItem(ctx context.Context, shipmentID, lineItemID uint64, quantity int32, foLineItemID *int64) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO shipment_line_items (shipment_id, line_item_id, quantity, fulfillment_order_line_item_id)
VALUES ($1,$2,$3,$4)
ON CONFLICT (shipment_id, line_item_id)
DO UPDATE SET fulfillment_order_line_item_id = COALESCE(EXCLUDED.fulfillment_order_line_item_id, shipment_line_items.fulfillment_order_line_item_id)
`, shipmentID, lineItemID, quantity, foLineItemID)
	return errors.Wrap(err, "upsert shipment line item")
}

// UpsertShipmentLineBySnapshot is the reconciliation variant: the line item is
// addressed by its external id because that is all the snapshot carries.
func (s *Storage) UpsertShipmentLineBySnapshot(ctx context.Context, shipmentID, orderID uint64, shopifyLineItemID int64, quantity int32, foLineItemID int64) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO shipment_line_items (shipment_id, line_item_id, quantity, fulfillment_order_line_item_id)
SELECT $1, li.id, $4, $5
FROM line_items li
WHERE li.order_id = $2 AND li.shopify_line_item_id = $3
ON CONFLICT (shipment_id, line_item_id)
DO UPDATE SET fulfillment_order_line_item_id = EXCLUDED.fulfillment_order_line_item_id
`, shipmentID, orderID, shopifyLineItemID, quantity, foLineItemID)
	return errors.Wrap(err, "upsert shipment line by snapshot")
}

func (s *Storage) ListShipmentLineItems(ctx context.Context, shipmentID uint64) ([]*models.ShipmentLineItem, error) {
	rows, err := s.db.Query(ctx, `
SELECT shipment_id, line_item_id, quantity, fulfillment_order_line_item_id
FROM shipment_line_items
WHERE shipment_id = $1
ORDER BY line_item_id ASC
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select shipment line items")
	}
	defer rows.Close()

	var out []*models.ShipmentLineItem
	for rows.Next() {
		var p models.ShipmentLineItem
		if err := rows.Scan(&p.ShipmentID, &p.LineItemID, &p.Quantity, &p.FulfillmentOrderLineItemID); err != nil {
			return nil, errors.Wrap(err, "scan shipment line item")
		}
		out = append(out, &p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
