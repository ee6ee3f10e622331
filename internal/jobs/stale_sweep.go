package jobs

import (
	"context"
	"log"
	"time"

	"flowsync/internal/services"
	"flowsync/internal/store"
)

// StaleSweepJob expires uncommitted records whose push never arrived: any
// reasoning-only record older than the retention window flips to stale and
// stops being claimable. The sweep is idempotent and safe to re-run.
type StaleSweepJob struct {
	store      store.ContextStore
	metrics    *services.Metrics
	staleAfter time.Duration
	interval   time.Duration
}

// NewStaleSweepJob creates the staleness sweep.
func NewStaleSweepJob(st store.ContextStore, metrics *services.Metrics, staleAfter, interval time.Duration) *StaleSweepJob {
	return &StaleSweepJob{
		store:      st,
		metrics:    metrics,
		staleAfter: staleAfter,
		interval:   interval,
	}
}

func (j *StaleSweepJob) Name() string {
	return "stale_sweep"
}

func (j *StaleSweepJob) Interval() time.Duration {
	return j.interval
}

// Run flips uncommitted records older than the retention window to stale.
func (j *StaleSweepJob) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-j.staleAfter)

	flipped, err := j.store.MarkStale(ctx, cutoff)
	if err != nil {
		return err
	}

	if flipped > 0 {
		log.Printf("🧹 [STALE-SWEEP] Expired %d uncommitted records older than %v", flipped, j.staleAfter)
		if j.metrics != nil {
			j.metrics.StaleRecords.Add(float64(flipped))
		}
	}
	return nil
}
