// Package retention implements the Retention Sweeper (4.J): an hourly job
// that deletes SendLog rows older than the 48h retention window in bounded
// batches so the prune never holds the durable store for long.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond"

	"github.com/relaybot/engine/internal/cronjob"
	"github.com/relaybot/engine/internal/pkg/logs"
	"github.com/relaybot/engine/internal/pkg/metrics"
	"github.com/relaybot/engine/internal/sendlog"
)

const (
	// Window is the retention bound: rows older than this are pruned.
	Window = 48 * time.Hour

	batchSize     = 1000
	maxBatchesRun = 50 // caps a single sweep's work so it can't run forever on a large backlog

	// concurrentBatches matches the pool's max worker count (pond.New(2, 4, ...)):
	// this many PruneSendLogBefore calls run in flight at once per round.
	concurrentBatches = 4
)

// Sweeper periodically prunes expired send-log rows.
type Sweeper struct {
	store sendlog.Store
	pool  *pond.WorkerPool
	job   cronjob.Job

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Sweeper running on the given schedule (a cron expression or
// an "every" duration, per cronjob.ScheduleType). schedule is typically
// "1h" for the hourly cadence the spec calls for.
func New(store sendlog.Store, scheduleType cronjob.ScheduleType, schedule string) *Sweeper {
	return &Sweeper{
		store: store,
		pool:  pond.New(2, 4, pond.MinWorkers(1), pond.IdleTimeout(30*time.Second)),
		job: cronjob.Job{
			ID:           "retention-sweep",
			Name:         "send log retention sweep",
			ScheduleType: scheduleType,
			Schedule:     schedule,
			Enabled:      true,
			CreatedAt:    time.Now(),
		},
	}
}

// Start runs the sweep loop in the background until ctx is cancelled or
// Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.loop(ctx)
	}()
}

// Stop cancels the sweep loop and waits for any in-flight batch submissions
// to drain.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	s.pool.StopAndWait()
}

func (s *Sweeper) loop(ctx context.Context) {
	now := time.Now()
	next, err := cronjob.CalcNextRun(&s.job, now)
	if err != nil {
		logs.CtxError(ctx, "retention: invalid schedule %q: %v", s.job.Schedule, err)
		return
	}

	for {
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		s.Sweep(ctx)

		now = time.Now()
		next, err = cronjob.CalcNextRun(&s.job, now)
		if err != nil {
			logs.CtxError(ctx, "retention: reschedule failed: %v", err)
			return
		}
	}
}

// Sweep runs one prune pass: deletes rows older than Window in successive
// rounds of up to concurrentBatches bounded batches, each round submitted to
// the pool as a task group so those batches genuinely overlap instead of
// serializing behind one another, until a round comes back with any batch
// short of batchSize (caught up) or maxBatchesRun total batches is hit
// (large backlog, resumes next tick).
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-Window)
	total := 0
	batchesRun := 0

	for batchesRun < maxBatchesRun {
		inFlight := concurrentBatches
		if remaining := maxBatchesRun - batchesRun; remaining < inFlight {
			inFlight = remaining
		}

		pruned := make([]int, inFlight)
		var mu sync.Mutex
		var firstErr error

		group := s.pool.Group()
		for i := 0; i < inFlight; i++ {
			i := i
			group.Submit(func() {
				n, err := s.store.PruneSendLogBefore(ctx, cutoff, batchSize)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				pruned[i] = n
			})
		}

		waitDone := make(chan struct{})
		go func() {
			group.Wait()
			close(waitDone)
		}()

		select {
		case <-waitDone:
		case <-ctx.Done():
			return
		}

		if firstErr != nil {
			logs.CtxError(ctx, "retention: prune batch failed: %v", firstErr)
			break
		}

		batchesRun += inFlight
		caughtUp := false
		for _, n := range pruned {
			total += n
			metrics.RetentionPrunedTotal.Add(float64(n))
			if n < batchSize {
				caughtUp = true
			}
		}
		if caughtUp {
			break
		}
	}

	if total > 0 {
		logs.CtxInfo(ctx, "retention: pruned %d send log rows older than %s", total, cutoff.Format(time.RFC3339))
	}
}
