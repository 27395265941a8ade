package pgjobs

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipment_import_jobs (
  id BIGSERIAL PRIMARY KEY,
  vendor_id BIGINT NOT NULL,
  tracking_number TEXT NOT NULL,
  carrier TEXT NOT NULL,
  total_count INT NOT NULL DEFAULT 0,
  processed_count INT NOT NULL DEFAULT 0,
  error_count INT NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  locked_at TIMESTAMPTZ NULL,
  attempts INT NOT NULL DEFAULT 0,
  last_attempt_at TIMESTAMPTZ NULL,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_import_jobs_status_locked_at ON shipment_import_jobs(status, locked_at)`,
		`
CREATE TABLE IF NOT EXISTS shipment_import_job_items (
  id BIGSERIAL PRIMARY KEY,
  job_id BIGINT NOT NULL REFERENCES shipment_import_jobs(id) ON DELETE CASCADE,
  vendor_id BIGINT NOT NULL,
  order_id BIGINT NOT NULL DEFAULT 0,
  line_item_id BIGINT NOT NULL DEFAULT 0,
  quantity INT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  attempts INT NOT NULL DEFAULT 0,
  error_message TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_import_job_items_job_status ON shipment_import_job_items(job_id, status)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  shop_domain TEXT NOT NULL,
  shopify_order_id BIGINT NOT NULL,
  shopify_fulfillment_order_id BIGINT NULL,
  shopify_fo_status TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (shopify_order_id)
)`,
		`
CREATE TABLE IF NOT EXISTS line_items (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  vendor_id BIGINT NOT NULL,
  shopify_line_item_id BIGINT NOT NULL,
  fulfillment_order_line_item_id BIGINT NULL,
  quantity INT NOT NULL,
  fulfilled_quantity INT NOT NULL DEFAULT 0,
  fulfillable_quantity INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (order_id, shopify_line_item_id)
)`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  vendor_id BIGINT NOT NULL,
  tracking_number TEXT NOT NULL,
  tracking_company TEXT NOT NULL DEFAULT '',
  tracking_url TEXT NULL,
  carrier TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'shipped',
  shopify_fulfillment_id BIGINT NULL,
  sync_status TEXT NOT NULL DEFAULT 'processing',
  sync_error TEXT NULL,
  sync_retry_count INT NOT NULL DEFAULT 0,
  sync_pending_until TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_sync_pending ON shipments(sync_status, sync_pending_until)`,
		`
CREATE TABLE IF NOT EXISTS shipment_line_items (
  shipment_id BIGINT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  line_item_id BIGINT NOT NULL REFERENCES line_items(id) ON DELETE CASCADE,
  quantity INT NOT NULL,
  fulfillment_order_line_item_id BIGINT NULL,
  PRIMARY KEY (shipment_id, line_item_id)
)`,
		`
CREATE TABLE IF NOT EXISTS shop_connections (
  shop_domain TEXT PRIMARY KEY,
  access_token TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
