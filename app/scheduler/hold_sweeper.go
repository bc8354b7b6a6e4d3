package scheduler

import (
	"context"
	"time"

	businessflow "github.com/amirphl/plotshare/business_flow"
	"go.uber.org/zap"
)

// HoldSweeper periodically expires plot holds whose lock period has elapsed
type HoldSweeper struct {
	job *job
}

func NewHoldSweeper(holdings businessflow.HoldingManager, lock *RunLock, logger *zap.Logger, interval time.Duration, clock func() time.Time) *HoldSweeper {
	return &HoldSweeper{
		job: newJob("hold_sweep", interval, lock, logger, clock, holdings.SweepExpired),
	}
}

// Start launches the sweep loop and returns a stop function that waits for the loop to exit
func (s *HoldSweeper) Start(ctx context.Context) func() {
	return s.job.start(ctx)
}

// RunOnce performs one guarded sweep and reports how many holds expired
func (s *HoldSweeper) RunOnce(ctx context.Context) (int, error) {
	return s.job.runOnce(ctx)
}
