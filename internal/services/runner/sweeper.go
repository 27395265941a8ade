package runner

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const defaultSweepInterval = 5 * time.Second

// Resyncer retries shipments whose fulfillment order was not ready at
// registration time.
type Resyncer interface {
	ResyncDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// Stats is a point-in-time snapshot for the admin endpoint.
type Stats struct {
	Sweeps        uint64 `json:"sweeps"`
	JobsClaimed   uint64 `json:"jobs_claimed"`
	JobsReclaimed uint64 `json:"jobs_reclaimed"`
	JobsFailed    uint64 `json:"jobs_failed"`
	Resynced      uint64 `json:"resynced"`
	SweepErrors   uint64 `json:"sweep_errors"`
}

// Sweeper ticks the runner and the shipment resync on one interval. A manual
// trigger runs a sweep immediately without disturbing the cadence.
type Sweeper struct {
	runner      *Runner
	resyncer    Resyncer
	interval    time.Duration
	resyncLimit int
	log         *slog.Logger

	trigger chan struct{}

	sweeps        atomic.Uint64
	jobsClaimed   atomic.Uint64
	jobsReclaimed atomic.Uint64
	jobsFailed    atomic.Uint64
	resynced      atomic.Uint64
	sweepErrors   atomic.Uint64
}

func NewSweeper(r *Runner, resyncer Resyncer, interval time.Duration, resyncLimit int, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		runner:      r,
		resyncer:    resyncer,
		interval:    interval,
		resyncLimit: resyncLimit,
		log:         log,
		trigger:     make(chan struct{}, 1),
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("sweeper started", slog.Duration("interval", s.interval))
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-t.C:
		case <-s.trigger:
		}
		s.sweep(ctx)
	}
}

// TriggerNow requests an immediate sweep. Never blocks; a sweep already
// queued absorbs the request.
func (s *Sweeper) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Sweeper) Stats() Stats {
	return Stats{
		Sweeps:        s.sweeps.Load(),
		JobsClaimed:   s.jobsClaimed.Load(),
		JobsReclaimed: s.jobsReclaimed.Load(),
		JobsFailed:    s.jobsFailed.Load(),
		Resynced:      s.resynced.Load(),
		SweepErrors:   s.sweepErrors.Load(),
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	s.sweeps.Add(1)

	sum, err := s.runner.ProcessShipmentImportJobs(ctx)
	if err != nil {
		s.sweepErrors.Add(1)
		s.log.Error("job sweep failed", slog.Any("error", err))
	} else {
		s.jobsClaimed.Add(uint64(sum.Claimed))
		s.jobsReclaimed.Add(uint64(sum.Reclaimed))
		s.jobsFailed.Add(uint64(sum.Failed))
		if sum.Claimed+sum.Reclaimed > 0 {
			s.log.Info("job sweep done",
				slog.Int("claimed", sum.Claimed),
				slog.Int("reclaimed", sum.Reclaimed),
				slog.Int("failed", sum.Failed))
		}
	}

	if s.resyncer == nil {
		return
	}
	n, err := s.resyncer.ResyncDue(ctx, time.Now(), s.resyncLimit)
	if err != nil {
		s.sweepErrors.Add(1)
		s.log.Error("shipment resync failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		s.resynced.Add(uint64(n))
		s.log.Info("shipments resynced", slog.Int("count", n))
	}
}
