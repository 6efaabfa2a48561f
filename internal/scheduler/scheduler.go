// Package scheduler runs the periodic activity log sync. A single loop
// owns all full/incremental sync invocation, so two passes never run
// concurrently by construction.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/borealis-media/borealis/internal/syncer"
)

// SyncSource is what the scheduler needs from the sync service.
type SyncSource interface {
	IsInitialActivityLogSyncNeeded(ctx context.Context) (bool, error)
	SyncActivityLogFull(ctx context.Context) (syncer.Result, error)
	SyncActivityLogIncremental(ctx context.Context, minutesBack int) (syncer.Result, error)
}

type Scheduler struct {
	svc               SyncSource
	interval          time.Duration
	sleepStep         time.Duration
	stopTimeout       time.Duration
	incrementalWindow int

	running   bool
	runningMu sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(svc SyncSource, interval time.Duration, incrementalWindowMinutes int) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if incrementalWindowMinutes <= 0 {
		incrementalWindowMinutes = 30
	}
	return &Scheduler{
		svc:               svc,
		interval:          interval,
		sleepStep:         time.Second,
		stopTimeout:       5 * time.Second,
		incrementalWindow: incrementalWindowMinutes,
	}
}

// Start launches the background loop. Starting a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = true
	s.done = make(chan struct{})
	ctx, s.cancel = context.WithCancel(ctx)
	s.runningMu.Unlock()

	log.Info().Dur("interval", s.interval).Msg("Starting sync scheduler")

	go s.loop(ctx)
}

// Stop signals the loop to exit and waits up to a bounded timeout for
// it to finish. Stopping a stopped scheduler is a no-op. An in-flight
// sync call runs to completion; shutdown latency is otherwise bounded
// by the sleep step, not the sync interval.
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	done := s.done
	s.runningMu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		log.Warn().Msg("Timed out waiting for sync loop to exit")
	}
	log.Info().Msg("Sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}
		s.runOnce(ctx)
		if !s.sleep(ctx) {
			return
		}
	}
}

// runOnce performs one sync attempt. Failures are logged and never
// stop the loop.
func (s *Scheduler) runOnce(ctx context.Context) {
	needed, err := s.svc.IsInitialActivityLogSyncNeeded(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduled sync error")
		return
	}

	var (
		res  syncer.Result
		kind string
	)
	if needed {
		kind = "full"
		res, err = s.svc.SyncActivityLogFull(ctx)
	} else {
		kind = "incremental"
		res, err = s.svc.SyncActivityLogIncremental(ctx, s.incrementalWindow)
	}
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("Scheduled sync error")
		return
	}

	log.Info().
		Str("kind", kind).
		Bool("success", res.Success).
		Int("items_synced", res.ItemsSynced).
		Int64("duration_ms", res.DurationMs).
		Msg("Scheduled activity log sync finished")
}

// sleep waits out the interval in short steps so a stop request is
// honored within roughly one step. Returns false when cancelled.
func (s *Scheduler) sleep(ctx context.Context) bool {
	remaining := s.interval
	for remaining > 0 {
		step := s.sleepStep
		if step > remaining {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(step):
		}
		remaining -= step
	}
	return true
}
