package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/bloomdesk/shipsync/internal/broker/messages"
	"github.com/bloomdesk/shipsync/internal/models"
	"github.com/bloomdesk/shipsync/internal/services/registrar"
	"github.com/bloomdesk/shipsync/internal/storage/pgjobs"
)

const (
	maxJobsPerSweep  = 5
	maxItemsPerSlice = 100
)

// Fixed item failure messages. Stable strings so operators can group on them.
const (
	msgNoVendor      = "job has no vendor"
	msgMissingRefs   = "order or line item reference missing"
	msgNothingToShip = "no fulfillable line items found"
)

type Store interface {
	ClaimPendingJobs(ctx context.Context, limit int) ([]*models.ShipmentImportJob, error)
	ListReclaimableJobIDs(ctx context.Context, limit int, staleAfter time.Duration) ([]uint64, error)
	ClaimJobByID(ctx context.Context, jobID uint64, staleAfter time.Duration) (*models.ShipmentImportJob, error)
	UpdateJobProgress(ctx context.Context, jobID uint64, upd pgjobs.ProgressUpdate) error

	LoadPendingItems(ctx context.Context, jobID uint64, limit int) ([]*models.ShipmentImportJobItem, error)
	IncrementItemAttempts(ctx context.Context, itemIDs []uint64) error
	MarkItemsResult(ctx context.Context, itemIDs []uint64, status string, errorMessage *string) error
	CountPendingItems(ctx context.Context, jobID uint64) (int, error)
}

type Registrar interface {
	PrepareBatch(ctx context.Context, vendorID, orderID uint64, sels []models.ImportSelection, trackingNumber, carrier string) (*registrar.Plan, error)
	Register(ctx context.Context, plan *registrar.Plan) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Options struct {
	// JobLimit caps jobs claimed per sweep, ItemLimit caps items per job
	// slice. Both are clamped to hard ceilings.
	JobLimit      int
	ItemLimit     int
	StaleAfter    time.Duration
	ProgressTopic string
}

// Summary reports one sweep.
type Summary struct {
	Claimed   int
	Reclaimed int
	Failed    int
}

// Runner drives claimed jobs through one bounded slice each: claim, attempt
// every pending item once, record results, then requeue or finish the job.
type Runner struct {
	store    Store
	reg      Registrar
	producer Producer
	opts     Options
	log      *slog.Logger
}

func New(store Store, reg Registrar, producer Producer, opts Options, log *slog.Logger) *Runner {
	if opts.JobLimit <= 0 || opts.JobLimit > maxJobsPerSweep {
		opts.JobLimit = maxJobsPerSweep
	}
	if opts.ItemLimit <= 0 || opts.ItemLimit > maxItemsPerSlice {
		opts.ItemLimit = maxItemsPerSlice
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{store: store, reg: reg, producer: producer, opts: opts, log: log}
}

// ProcessShipmentImportJobs is one sweep: claim pending jobs first, then fill
// the remaining budget by reclaiming jobs whose lock went stale.
func (r *Runner) ProcessShipmentImportJobs(ctx context.Context) (Summary, error) {
	var sum Summary

	jobs, err := r.store.ClaimPendingJobs(ctx, r.opts.JobLimit)
	if err != nil {
		return sum, errors.Wrap(err, "claim pending jobs")
	}
	sum.Claimed = len(jobs)

	if shortfall := r.opts.JobLimit - len(jobs); shortfall > 0 {
		ids, err := r.store.ListReclaimableJobIDs(ctx, shortfall, r.opts.StaleAfter)
		if err != nil {
			return sum, errors.Wrap(err, "list reclaimable jobs")
		}
		for _, id := range ids {
			job, err := r.store.ClaimJobByID(ctx, id, r.opts.StaleAfter)
			if err != nil {
				return sum, errors.Wrap(err, "reclaim job")
			}
			if job == nil {
				// Someone else refreshed the lock between list and claim.
				continue
			}
			jobs = append(jobs, job)
			sum.Reclaimed++
		}
	}

	for _, job := range jobs {
		if err := r.processJob(ctx, job, r.opts.ItemLimit); err != nil {
			sum.Failed++
			r.log.Error("job slice failed",
				slog.Uint64("job_id", job.ID), slog.Any("error", err))
		}
	}
	return sum, nil
}

// AdvanceJob runs one slice of a single job on demand, used by the polling
// API. Returns (nil, nil) when the job is not claimable right now.
func (r *Runner) AdvanceJob(ctx context.Context, jobID uint64, itemLimit int) (*models.ShipmentImportJob, error) {
	if itemLimit <= 0 || itemLimit > maxItemsPerSlice {
		itemLimit = r.opts.ItemLimit
	}
	job, err := r.store.ClaimJobByID(ctx, jobID, r.opts.StaleAfter)
	if err != nil {
		return nil, errors.Wrap(err, "claim job")
	}
	if job == nil {
		return nil, nil
	}
	if err := r.processJob(ctx, job, itemLimit); err != nil {
		return job, err
	}
	return job, nil
}

func (r *Runner) processJob(ctx context.Context, job *models.ShipmentImportJob, itemLimit int) error {
	items, err := r.store.LoadPendingItems(ctx, job.ID, itemLimit)
	if err != nil {
		return errors.Wrap(err, "load pending items")
	}
	if len(items) == 0 {
		// Nothing left: settle the terminal status from the counters.
		return r.finalize(ctx, job, 0, 0, nil)
	}

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	if err := r.store.IncrementItemAttempts(ctx, ids); err != nil {
		return errors.Wrap(err, "increment attempts")
	}

	if job.VendorID == 0 {
		if err := r.failItems(ctx, ids, msgNoVendor); err != nil {
			return err
		}
		return r.finalize(ctx, job, 0, int32(len(items)), strptr(msgNoVendor))
	}

	var (
		succeeded []uint64
		failedBy  = map[string][]uint64{}
		lastError *string
	)
	fail := func(itemIDs []uint64, msg string) {
		failedBy[msg] = append(failedBy[msg], itemIDs...)
		lastError = strptr(msg)
	}

	// Items with broken references fail individually; the rest group by order
	// so one order becomes one external registration.
	var orderIDs []uint64
	byOrder := map[uint64][]*models.ShipmentImportJobItem{}
	for _, it := range items {
		if it.OrderID == 0 || it.LineItemID == 0 {
			fail([]uint64{it.ID}, msgMissingRefs)
			continue
		}
		if _, ok := byOrder[it.OrderID]; !ok {
			orderIDs = append(orderIDs, it.OrderID)
		}
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}

	for _, orderID := range orderIDs {
		group := byOrder[orderID]
		sels := make([]models.ImportSelection, 0, len(group))
		for _, it := range group {
			sels = append(sels, models.ImportSelection{OrderID: it.OrderID, LineItemID: it.LineItemID, Quantity: it.Quantity})
		}

		plan, err := r.reg.PrepareBatch(ctx, job.VendorID, orderID, sels, job.TrackingNumber, job.Carrier)
		if err != nil {
			fail(itemIDsOf(group), models.NormalizeErrorMessage(err.Error()))
			continue
		}
		if plan == nil {
			fail(itemIDsOf(group), msgNothingToShip)
			continue
		}

		// Items whose line item did not survive preparation fail on their
		// own; the registered plan only vouches for what it contains.
		planned := map[uint64]bool{}
		for _, l := range plan.Lines {
			planned[l.Item.ID] = true
		}
		var inPlan, outOfPlan []uint64
		for _, it := range group {
			if planned[it.LineItemID] {
				inPlan = append(inPlan, it.ID)
			} else {
				outOfPlan = append(outOfPlan, it.ID)
			}
		}
		if len(outOfPlan) > 0 {
			fail(outOfPlan, msgNothingToShip)
		}

		if err := r.reg.Register(ctx, plan); err != nil {
			fail(inPlan, models.NormalizeErrorMessage(err.Error()))
			continue
		}
		succeeded = append(succeeded, inPlan...)
	}

	if err := r.store.MarkItemsResult(ctx, succeeded, models.ItemStatusSucceeded, nil); err != nil {
		return errors.Wrap(err, "mark items succeeded")
	}
	var errDelta int32
	for msg, failedIDs := range failedBy {
		if err := r.failItems(ctx, failedIDs, msg); err != nil {
			return err
		}
		errDelta += int32(len(failedIDs))
	}

	// Succeeded and failed counters stay disjoint so their sum never
	// exceeds total_count.
	return r.finalize(ctx, job, int32(len(succeeded)), errDelta, lastError)
}

// finalize settles the job after a slice: back to pending while items remain,
// otherwise terminal, failed as soon as any item ever failed.
func (r *Runner) finalize(ctx context.Context, job *models.ShipmentImportJob, processedDelta, errDelta int32, lastError *string) error {
	pending, err := r.store.CountPendingItems(ctx, job.ID)
	if err != nil {
		return errors.Wrap(err, "count pending items")
	}

	var status string
	switch {
	case pending > 0:
		status = models.JobStatusPending
	case job.ErrorCount+errDelta > 0:
		status = models.JobStatusFailed
	default:
		status = models.JobStatusSucceeded
	}

	if err := r.store.UpdateJobProgress(ctx, job.ID, pgjobs.ProgressUpdate{
		ProcessedDelta: processedDelta,
		ErrorDelta:     errDelta,
		Status:         &status,
		LastError:      lastError,
		Unlock:         true,
	}); err != nil {
		return errors.Wrap(err, "update job progress")
	}

	r.publishProgress(ctx, job, status, processedDelta, errDelta, lastError)
	return nil
}

func (r *Runner) failItems(ctx context.Context, itemIDs []uint64, msg string) error {
	return errors.Wrap(
		r.store.MarkItemsResult(ctx, itemIDs, models.ItemStatusFailed, strptr(msg)),
		"mark items failed")
}

func (r *Runner) publishProgress(ctx context.Context, job *models.ShipmentImportJob, status string, processedDelta, errDelta int32, lastError *string) {
	if r.producer == nil || r.opts.ProgressTopic == "" {
		return
	}
	if lastError == nil {
		lastError = job.LastError
	}
	payload, err := json.Marshal(messages.JobProgressed{
		JobID:          job.ID,
		Status:         status,
		TotalCount:     job.TotalCount,
		ProcessedCount: job.ProcessedCount + processedDelta,
		ErrorCount:     job.ErrorCount + errDelta,
		LastError:      lastError,
		OccurredAt:     time.Now().UTC(),
	})
	if err != nil {
		return
	}
	key := []byte(strconv.FormatUint(job.ID, 10))
	if err := r.producer.Publish(ctx, r.opts.ProgressTopic, key, payload); err != nil {
		r.log.Warn("publish job progress failed",
			slog.Uint64("job_id", job.ID), slog.Any("error", err))
	}
}

func itemIDsOf(items []*models.ShipmentImportJobItem) []uint64 {
	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}

func strptr(s string) *string { return &s }
