package jobs

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bloomdesk/shipsync/internal/models"
)

const recentFailureLimit = 5

type Store interface {
	CreateJob(ctx context.Context, in models.JobCreateInput) (*models.ShipmentImportJob, error)
	GetJob(ctx context.Context, jobID uint64) (*models.ShipmentImportJob, error)
	ListRecentFailures(ctx context.Context, jobID uint64, limit int) ([]*models.ShipmentImportJobItem, error)
}

// Advancer runs one processing slice of a job on demand.
type Advancer interface {
	AdvanceJob(ctx context.Context, jobID uint64, itemLimit int) (*models.ShipmentImportJob, error)
}

type ItemFailure struct {
	OrderID    uint64 `json:"orderId"`
	LineItemID uint64 `json:"lineItemId"`
	Error      string `json:"error"`
}

// Summary is the poll-facing view of a job.
type Summary struct {
	JobID          uint64        `json:"jobId"`
	Status         string        `json:"status"`
	TotalCount     int32         `json:"totalCount"`
	ProcessedCount int32         `json:"processedCount"`
	ErrorCount     int32         `json:"errorCount"`
	LastError      *string       `json:"lastError,omitempty"`
	RecentFailures []ItemFailure `json:"recentFailures,omitempty"`
}

type Service struct {
	store    Store
	advancer Advancer
}

func New(store Store, advancer Advancer) *Service {
	return &Service{store: store, advancer: advancer}
}

// Enqueue validates the request and persists the job with its items.
func (s *Service) Enqueue(ctx context.Context, in models.JobCreateInput) (*models.ShipmentImportJob, error) {
	if in.TrackingNumber == "" {
		return nil, errors.New("tracking number is required")
	}
	if len(in.Selections) == 0 {
		return nil, errors.New("at least one selection is required")
	}
	job, err := s.store.CreateJob(ctx, in)
	if err != nil {
		return nil, errors.Wrap(err, "create job")
	}
	return job, nil
}

// Summary returns nil when the job does not exist.
func (s *Service) Summary(ctx context.Context, jobID uint64) (*Summary, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "get job")
	}
	if job == nil {
		return nil, nil
	}
	return s.summarize(ctx, job)
}

// Advance runs one slice when the job is still live, then reports the fresh
// state. Terminal jobs just report.
func (s *Service) Advance(ctx context.Context, jobID uint64, itemLimit int) (*Summary, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "get job")
	}
	if job == nil {
		return nil, nil
	}

	if job.Status == models.JobStatusPending || job.Status == models.JobStatusRunning {
		if _, err := s.advancer.AdvanceJob(ctx, jobID, itemLimit); err != nil {
			return nil, errors.Wrap(err, "advance job")
		}
		if job, err = s.store.GetJob(ctx, jobID); err != nil {
			return nil, errors.Wrap(err, "reload job")
		}
		if job == nil {
			return nil, nil
		}
	}
	return s.summarize(ctx, job)
}

func (s *Service) summarize(ctx context.Context, job *models.ShipmentImportJob) (*Summary, error) {
	sum := &Summary{
		JobID:          job.ID,
		Status:         job.Status,
		TotalCount:     job.TotalCount,
		ProcessedCount: job.ProcessedCount,
		ErrorCount:     job.ErrorCount,
		LastError:      job.LastError,
	}
	if job.ErrorCount > 0 {
		failures, err := s.store.ListRecentFailures(ctx, job.ID, recentFailureLimit)
		if err != nil {
			return nil, errors.Wrap(err, "list recent failures")
		}
		for _, it := range failures {
			f := ItemFailure{OrderID: it.OrderID, LineItemID: it.LineItemID}
			if it.ErrorMessage != nil {
				f.Error = *it.ErrorMessage
			}
			sum.RecentFailures = append(sum.RecentFailures, f)
		}
	}
	return sum, nil
}
