package pgjobs

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/bloomdesk/shipsync/internal/models"
)

const maxItemBatch = 200

const itemColumns = `
  id, job_id, vendor_id, order_id, line_item_id,
  quantity, status, attempts, error_message,
  created_at, updated_at`

func scanItem(row pgx.Row) (*models.ShipmentImportJobItem, error) {
	var it models.ShipmentImportJobItem
	if err := row.Scan(
		&it.ID, &it.JobID, &it.VendorID, &it.OrderID, &it.LineItemID,
		&it.Quantity, &it.Status, &it.Attempts, &it.ErrorMessage,
		&it.CreatedAt, &it.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &it, nil
}

// LoadPendingItems returns pending items oldest-id-first so replayed slices
// see the same batch boundaries.
func (s *Storage) LoadPendingItems(ctx context.Context, jobID uint64, limit int) ([]*models.ShipmentImportJobItem, error) {
	if limit <= 0 || limit > maxItemBatch {
		limit = maxItemBatch
	}

	rows, err := s.db.Query(ctx, `
SELECT`+itemColumns+`
FROM shipment_import_job_items
WHERE job_id = $1 AND status = 'pending'
ORDER BY id ASC
LIMIT $2
`, jobID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending items")
	}
	defer rows.Close()

	var out []*models.ShipmentImportJobItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		out = append(out, it)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) IncrementItemAttempts(ctx context.Context, itemIDs []uint64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
UPDATE shipment_import_job_items
SET attempts = attempts + 1, updated_at = now()
WHERE id = ANY($1)
`, itemIDs)
	return errors.Wrap(err, "increment item attempts")
}

func (s *Storage) MarkItemsResult(ctx context.Context, itemIDs []uint64, status string, errorMessage *string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
UPDATE shipment_import_job_items
SET status = $2, error_message = $3, updated_at = now()
WHERE id = ANY($1)
`, itemIDs, status, errorMessage)
	return errors.Wrap(err, "mark items result")
}

func (s *Storage) CountPendingItems(ctx context.Context, jobID uint64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
SELECT count(*) FROM shipment_import_job_items
WHERE job_id = $1 AND status = 'pending'
`, jobID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count pending items")
	}
	return n, nil
}

// ListRecentFailures feeds the job summary; capped small because it is
// operator-facing, not a report.
func (s *Storage) ListRecentFailures(ctx context.Context, jobID uint64, limit int) ([]*models.ShipmentImportJobItem, error) {
	if limit <= 0 || limit > 5 {
		limit = 5
	}

	rows, err := s.db.Query(ctx, `
SELECT`+itemColumns+`
FROM shipment_import_job_items
WHERE job_id = $1 AND status = 'failed'
ORDER BY updated_at DESC, id DESC
LIMIT $2
`, jobID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select failed items")
	}
	defer rows.Close()

	var out []*models.ShipmentImportJobItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		out = append(out, it)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
