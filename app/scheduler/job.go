package scheduler

import (
	"context"
	"time"

	"github.com/amirphl/plotshare/app/metrics"
	"github.com/amirphl/plotshare/utils"
	"go.uber.org/zap"
)

// job is one named recurring pass. run returns how many records it processed.
type job struct {
	name     string
	interval time.Duration
	lock     *RunLock
	logger   *zap.Logger
	clock    func() time.Time
	run      func(ctx context.Context, now time.Time) (int, error)
}

// start launches the ticker loop in a background goroutine and returns a stop function
func (j *job) start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.runOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// runOnce performs a single guarded pass
func (j *job) runOnce(ctx context.Context) (int, error) {
	release, ok, err := j.lock.Acquire(ctx, j.name)
	if err != nil {
		metrics.ObserveSchedulerRun(j.name, "lock_error")
		j.logger.Warn("scheduler lock unavailable", zap.String("job", j.name), zap.Error(err))
		return 0, err
	}
	if !ok {
		metrics.ObserveSchedulerRun(j.name, "skipped")
		j.logger.Debug("scheduler run held by another instance", zap.String("job", j.name))
		return 0, nil
	}
	defer release()

	n, err := j.run(ctx, j.clock())
	if err != nil {
		metrics.ObserveSchedulerRun(j.name, "error")
		j.logger.Error("scheduler run failed", zap.String("job", j.name), zap.Int("processed", n), zap.Error(err))
		return n, err
	}
	metrics.ObserveSchedulerRun(j.name, "success")
	if n > 0 {
		j.logger.Info("scheduler run finished", zap.String("job", j.name), zap.Int("processed", n))
	}
	return n, nil
}

func newJob(name string, interval time.Duration, lock *RunLock, logger *zap.Logger, clock func() time.Time,
	run func(ctx context.Context, now time.Time) (int, error)) *job {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = utils.UTCNow
	}
	return &job{name: name, interval: interval, lock: lock, logger: logger, clock: clock, run: run}
}
