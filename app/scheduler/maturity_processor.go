package scheduler

import (
	"context"
	"time"

	businessflow "github.com/amirphl/plotshare/business_flow"
	"go.uber.org/zap"
)

// MaturityProcessor periodically completes approved investments past their maturity date
type MaturityProcessor struct {
	job *job
}

func NewMaturityProcessor(allocator businessflow.InvestmentAllocator, lock *RunLock, logger *zap.Logger, interval time.Duration, batchSize int, clock func() time.Time) *MaturityProcessor {
	if batchSize <= 0 {
		batchSize = 100
	}
	run := func(ctx context.Context, now time.Time) (int, error) {
		return allocator.ProcessDueMaturities(ctx, now, batchSize)
	}
	return &MaturityProcessor{
		job: newJob("maturity", interval, lock, logger, clock, run),
	}
}

// Start launches the maturity loop and returns a stop function that waits for the loop to exit
func (p *MaturityProcessor) Start(ctx context.Context) func() {
	return p.job.start(ctx)
}

// RunOnce performs one guarded maturity pass
func (p *MaturityProcessor) RunOnce(ctx context.Context) (int, error) {
	return p.job.runOnce(ctx)
}
