package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bloomdesk/shipsync/internal/models"
)

type fakeStore struct {
	created  *models.JobCreateInput
	job      *models.ShipmentImportJob
	failures []*models.ShipmentImportJobItem
}

func (f *fakeStore) CreateJob(ctx context.Context, in models.JobCreateInput) (*models.ShipmentImportJob, error) {
	f.created = &in
	return &models.ShipmentImportJob{ID: 1, VendorID: in.VendorID, TotalCount: int32(len(in.Selections)), Status: models.JobStatusPending}, nil
}

func (f *fakeStore) GetJob(ctx context.Context, jobID uint64) (*models.ShipmentImportJob, error) {
	if f.job != nil && f.job.ID == jobID {
		return f.job, nil
	}
	return nil, nil
}

func (f *fakeStore) ListRecentFailures(ctx context.Context, jobID uint64, limit int) ([]*models.ShipmentImportJobItem, error) {
	return f.failures, nil
}

type fakeAdvancer struct {
	calls     int
	itemLimit int
	advance   func()
}

func (f *fakeAdvancer) AdvanceJob(ctx context.Context, jobID uint64, itemLimit int) (*models.ShipmentImportJob, error) {
	f.calls++
	f.itemLimit = itemLimit
	if f.advance != nil {
		f.advance()
	}
	return nil, nil
}

func TestEnqueue_Validation(t *testing.T) {
	svc := New(&fakeStore{}, &fakeAdvancer{})

	_, err := svc.Enqueue(context.Background(), models.JobCreateInput{
		Selections: []models.ImportSelection{{OrderID: 1, LineItemID: 2}},
	})
	require.Error(t, err)

	_, err = svc.Enqueue(context.Background(), models.JobCreateInput{TrackingNumber: "TN-1"})
	require.Error(t, err)
}

func TestEnqueue_CreatesJob(t *testing.T) {
	st := &fakeStore{}
	svc := New(st, &fakeAdvancer{})

	job, err := svc.Enqueue(context.Background(), models.JobCreateInput{
		VendorID:       7,
		TrackingNumber: "TN-1",
		Carrier:        "yamato",
		Selections:     []models.ImportSelection{{OrderID: 1, LineItemID: 2, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), job.ID)
	require.Equal(t, "TN-1", st.created.TrackingNumber)
}

func TestSummary(t *testing.T) {
	msg := "boom"
	st := &fakeStore{
		job: &models.ShipmentImportJob{
			ID: 1, Status: models.JobStatusFailed,
			TotalCount: 3, ProcessedCount: 3, ErrorCount: 1, LastError: &msg,
		},
		failures: []*models.ShipmentImportJobItem{
			{OrderID: 100, LineItemID: 5, ErrorMessage: &msg},
		},
	}
	svc := New(st, &fakeAdvancer{})

	sum, err := svc.Summary(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, sum.Status)
	require.Equal(t, int32(1), sum.ErrorCount)
	require.Equal(t, []ItemFailure{{OrderID: 100, LineItemID: 5, Error: "boom"}}, sum.RecentFailures)

	sum, err = svc.Summary(context.Background(), 404)
	require.NoError(t, err)
	require.Nil(t, sum)
}

func TestAdvance_RunsSliceWhileLive(t *testing.T) {
	st := &fakeStore{job: &models.ShipmentImportJob{ID: 1, Status: models.JobStatusPending, TotalCount: 2}}
	adv := &fakeAdvancer{}
	adv.advance = func() {
		st.job.Status = models.JobStatusSucceeded
		st.job.ProcessedCount = 2
	}
	svc := New(st, adv)

	sum, err := svc.Advance(context.Background(), 1, 50)
	require.NoError(t, err)
	require.Equal(t, 1, adv.calls)
	require.Equal(t, 50, adv.itemLimit)
	require.Equal(t, models.JobStatusSucceeded, sum.Status)
	require.Equal(t, int32(2), sum.ProcessedCount)
}

func TestAdvance_TerminalJobOnlyReports(t *testing.T) {
	st := &fakeStore{job: &models.ShipmentImportJob{ID: 1, Status: models.JobStatusSucceeded}}
	adv := &fakeAdvancer{}
	svc := New(st, adv)

	sum, err := svc.Advance(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Zero(t, adv.calls)
	require.Equal(t, models.JobStatusSucceeded, sum.Status)
}
