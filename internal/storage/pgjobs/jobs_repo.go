package pgjobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/bloomdesk/shipsync/internal/models"
)

const (
	maxClaimLimit   = 5
	maxItemQuantity = 9999

	defaultStaleAfter = 90 * time.Second
	minStaleAfter     = 30 * time.Second
	maxStaleAfter     = 3600 * time.Second
)

const jobColumns = `
  id, vendor_id, tracking_number, carrier,
  total_count, processed_count, error_count,
  status, locked_at, attempts, last_attempt_at, last_error,
  created_at, updated_at`

func scanJob(row pgx.Row) (*models.ShipmentImportJob, error) {
	var j models.ShipmentImportJob
	if err := row.Scan(
		&j.ID, &j.VendorID, &j.TrackingNumber, &j.Carrier,
		&j.TotalCount, &j.ProcessedCount, &j.ErrorCount,
		&j.Status, &j.LockedAt, &j.Attempts, &j.LastAttemptAt, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &j, nil
}

func clampStaleAfter(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultStaleAfter
	}
	if d < minStaleAfter {
		return minStaleAfter
	}
	if d > maxStaleAfter {
		return maxStaleAfter
	}
	return d
}

// CreateJob normalizes the selections (dedup on (order, line item), quantity
// clamped to [1,9999]) and inserts the job plus its items in one transaction,
// so a failed item insert never leaves an orphaned job row.
func (s *Storage) CreateJob(ctx context.Context, in models.JobCreateInput) (*models.ShipmentImportJob, error) {
	clean := normalizeSelections(in.Selections)
	if len(clean) == 0 {
		return nil, errors.New("no valid selections")
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	job, err := scanJob(tx.QueryRow(ctx, `
INSERT INTO shipment_import_jobs (
  vendor_id, tracking_number, carrier, total_count, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,'pending',$5,$5)
RETURNING`+jobColumns, in.VendorID, in.TrackingNumber, in.Carrier, int32(len(clean)), now))
	if err != nil {
		return nil, errors.Wrap(err, "insert job")
	}

	for _, sel := range clean {
		_, err := tx.Exec(ctx, `
INSERT INTO shipment_import_job_items (
  job_id, vendor_id, order_id, line_item_id, quantity, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,'pending',$6,$6)
`, job.ID, in.VendorID, sel.OrderID, sel.LineItemID, sel.Quantity, now)
		if err != nil {
			return nil, errors.Wrap(err, "insert job item")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return job, nil
}

func normalizeSelections(sels []models.ImportSelection) []models.ImportSelection {
	type key struct{ orderID, lineItemID uint64 }
	seen := make(map[key]struct{}, len(sels))
	clean := make([]models.ImportSelection, 0, len(sels))
	for _, sel := range sels {
		k := key{sel.OrderID, sel.LineItemID}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		q := sel.Quantity
		if q < 1 {
			q = 1
		}
		if q > maxItemQuantity {
			q = maxItemQuantity
		}
		clean = append(clean, models.ImportSelection{OrderID: sel.OrderID, LineItemID: sel.LineItemID, Quantity: q})
	}
	return clean
}

func (s *Storage) GetJob(ctx context.Context, jobID uint64) (*models.ShipmentImportJob, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT`+jobColumns+` FROM shipment_import_jobs WHERE id = $1`, jobID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select job")
	}
	return job, nil
}

// ClaimPendingJobs atomically flips up to limit pending jobs to running,
// stamping the lock. SKIP LOCKED keeps two concurrent workers from ever
// claiming the same row.
func (s *Storage) ClaimPendingJobs(ctx context.Context, limit int) ([]*models.ShipmentImportJob, error) {
	if limit <= 0 || limit > maxClaimLimit {
		limit = maxClaimLimit
	}

	rows, err := s.db.Query(ctx, `
UPDATE shipment_import_jobs
SET status = 'running', locked_at = now(), attempts = attempts + 1, last_attempt_at = now(), updated_at = now()
WHERE id IN (
  SELECT id FROM shipment_import_jobs
  WHERE status = 'pending'
  ORDER BY id
  LIMIT $1
  FOR UPDATE SKIP LOCKED
)
RETURNING`+jobColumns, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim pending jobs")
	}
	defer rows.Close()

	var claimed []*models.ShipmentImportJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan claimed job")
		}
		claimed = append(claimed, j)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return claimed, nil
}

// ListReclaimableJobIDs returns running jobs that look abandoned: lock never
// stamped first, then locks older than the stale threshold, oldest first.
func (s *Storage) ListReclaimableJobIDs(ctx context.Context, limit int, staleAfter time.Duration) ([]uint64, error) {
	if limit <= 0 || limit > maxClaimLimit {
		limit = maxClaimLimit
	}
	stale := clampStaleAfter(staleAfter)

	rows, err := s.db.Query(ctx, `
SELECT id FROM shipment_import_jobs
WHERE status = 'running'
  AND (locked_at IS NULL OR locked_at < now() - make_interval(secs => $2))
ORDER BY locked_at ASC NULLS FIRST, id ASC
LIMIT $1
`, limit, stale.Seconds())
	if err != nil {
		return nil, errors.Wrap(err, "select reclaimable jobs")
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan job id")
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return ids, nil
}

// ClaimJobByID re-validates status at claim time: pending claims
// unconditionally, running only when the lock is absent or stale. Returns
// (nil, nil) when another claimant refreshed the lock first.
func (s *Storage) ClaimJobByID(ctx context.Context, jobID uint64, staleAfter time.Duration) (*models.ShipmentImportJob, error) {
	stale := clampStaleAfter(staleAfter)

	job, err := scanJob(s.db.QueryRow(ctx, `
UPDATE shipment_import_jobs
SET status = 'running', locked_at = now(), attempts = attempts + 1, last_attempt_at = now(), updated_at = now()
WHERE id = $1
  AND (
    status = 'pending'
    OR (status = 'running' AND (locked_at IS NULL OR locked_at < now() - make_interval(secs => $2)))
  )
RETURNING`+jobColumns, jobID, stale.Seconds()))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim job by id")
	}
	return job, nil
}

// ProgressUpdate is the only way a job leaves "running". Unlock clears the
// lock together with the status change so a requeued job is claimable at once.
type ProgressUpdate struct {
	ProcessedDelta int32
	ErrorDelta     int32
	Status         *string
	LastError      *string
	Unlock         bool
}

func (s *Storage) UpdateJobProgress(ctx context.Context, jobID uint64, upd ProgressUpdate) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipment_import_jobs
SET
  processed_count = processed_count + $2,
  error_count = error_count + $3,
  status = COALESCE($4, status),
  last_error = COALESCE($5, last_error),
  locked_at = CASE WHEN $6 THEN NULL ELSE locked_at END,
  updated_at = now()
WHERE id = $1
`, jobID, upd.ProcessedDelta, upd.ErrorDelta, upd.Status, upd.LastError, upd.Unlock)
	return errors.Wrap(err, "update job progress")
}
