package pgjobs

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/bloomdesk/shipsync/internal/models"
)

const orderColumns = `
  id, shop_domain, shopify_order_id, shopify_fulfillment_order_id, shopify_fo_status,
  created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(
		&o.ID, &o.ShopDomain, &o.ShopifyOrderID, &o.ShopifyFulfillmentOrderID, &o.ShopifyFOStatus,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Storage) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

// GetOrderByShopifyID resolves a local order by its external id, optionally
// pinned to a shop domain (empty domain matches any shop).
func (s *Storage) GetOrderByShopifyID(ctx context.Context, shopDomain string, shopifyOrderID int64) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `
SELECT`+orderColumns+`
FROM orders
WHERE shopify_order_id = $1 AND ($2 = '' OR shop_domain = $2)
`, shopifyOrderID, shopDomain))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order by shopify id")
	}
	return o, nil
}

func (s *Storage) SetOrderFulfillmentOrder(ctx context.Context, orderID uint64, foID int64, foStatus string) error {
	_, err := s.db.Exec(ctx, `
UPDATE orders
SET shopify_fulfillment_order_id = $2, shopify_fo_status = $3, updated_at = now()
WHERE id = $1
`, orderID, foID, foStatus)
	return errors.Wrap(err, "set order fulfillment order")
}

const lineItemColumns = `
  id, order_id, vendor_id, shopify_line_item_id, fulfillment_order_line_item_id,
  quantity, fulfilled_quantity, fulfillable_quantity,
  created_at, updated_at`

func scanLineItem(row pgx.Row) (*models.LineItem, error) {
	var li models.LineItem
	if err := row.Scan(
		&li.ID, &li.OrderID, &li.VendorID, &li.ShopifyLineItemID, &li.FulfillmentOrderLineItemID,
		&li.Quantity, &li.FulfilledQuantity, &li.FulfillableQuantity,
		&li.CreatedAt, &li.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &li, nil
}

func (s *Storage) GetLineItemsByIDs(ctx context.Context, ids []uint64) ([]*models.LineItem, error) {
	if len(ids) == 0 {
		return []*models.LineItem{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT`+lineItemColumns+`
FROM line_items
WHERE id = ANY($1)
ORDER BY id ASC
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select line items")
	}
	defer rows.Close()

	var out []*models.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan line item")
		}
		out = append(out, li)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// UpdateLineItemFulfillmentOrder mirrors the external snapshot onto the local
// line item, matched by external line-item id within one order.
func (s *Storage) UpdateLineItemFulfillmentOrder(ctx context.Context, orderID uint64, shopifyLineItemID int64, fulfillable int32, foLineItemID int64) error {
	_, err := s.db.Exec(ctx, `
UPDATE line_items
SET fulfillable_quantity = $3, fulfillment_order_line_item_id = $4, updated_at = now()
WHERE order_id = $1 AND shopify_line_item_id = $2
`, orderID, shopifyLineItemID, fulfillable, foLineItemID)
	return errors.Wrap(err, "update line item fulfillment order")
}
