package businessflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/plotshare/app/events"
	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/amirphl/plotshare/models"
	testingutil "github.com/amirphl/plotshare/testing"
	"github.com/amirphl/plotshare/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateEligibility(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	project, err := env.fixtures.CreateProject("Lakeside")
	require.NoError(t, err)
	plot, err := env.fixtures.CreatePlot(project.ID, testingutil.PlotOptions{
		TeamValueRequired:   "50000",
		TeamMembersRequired: 3,
		InvestmentRequired:  "10000",
	})
	require.NoError(t, err)

	_, err = env.fixtures.SetTeamStats(1, "30000", 5)
	require.NoError(t, err)
	_, err = env.fixtures.SetTeamStats(2, "80000", 4)
	require.NoError(t, err)

	t.Run("TeamValueShort", func(t *testing.T) {
		e, err := env.holdings.EvaluateEligibility(ctx, 1, plot.ID, dec("20000"))
		require.NoError(t, err)
		assert.False(t, e.Eligible)
		assert.Equal(t, []string{businessflow.ReasonTeamValueRequired}, e.Reasons)
		assertAmount(t, "30000", e.TeamValue)
		assertAmount(t, "50000", e.TeamValueRequired)
	})

	t.Run("Eligible", func(t *testing.T) {
		e, err := env.holdings.EvaluateEligibility(ctx, 2, plot.ID, dec("10000"))
		require.NoError(t, err)
		assert.True(t, e.Eligible)
		assert.Empty(t, e.Reasons)
		assert.NotNil(t, e.Reasons)
	})

	t.Run("NoTeamStats", func(t *testing.T) {
		e, err := env.holdings.EvaluateEligibility(ctx, 3, plot.ID, dec("500"))
		require.NoError(t, err)
		assert.False(t, e.Eligible)
		assert.ElementsMatch(t, []string{
			businessflow.ReasonTeamValueRequired,
			businessflow.ReasonTeamMembersRequired,
			businessflow.ReasonInvestmentRequired,
		}, e.Reasons)
	})

	t.Run("UnknownPlot", func(t *testing.T) {
		_, err := env.holdings.EvaluateEligibility(ctx, 1, 4242, dec("500"))
		assert.ErrorIs(t, err, businessflow.ErrPlotNotFound)
	})
}

func TestPlaceHold(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	project, err := env.fixtures.CreateProject("Hillside")
	require.NoError(t, err)
	plot, err := env.fixtures.CreatePlot(project.ID, testingutil.PlotOptions{LockPeriodDays: 30, Price: "250000"})
	require.NoError(t, err)

	holding, err := env.holdings.PlaceHold(ctx, businessflow.PlaceHoldRequest{UserID: 1, PlotID: plot.ID, InvestmentID: 11, Amount: dec("5000")})
	require.NoError(t, err)
	assert.Equal(t, models.HoldStatusActive, holding.HoldStatus)
	assert.Equal(t, models.HoldingStatusActive, holding.Status)
	assert.Equal(t, 30, holding.LockPeriodDays)
	assert.True(t, holding.HoldExpiryDate.Equal(env.now.Add(30*utils.Day)))
	assertAmount(t, "250000", holding.HoldValue)
	assert.Len(t, env.recorder.OfType(events.TypeHoldPlaced), 1)

	stored, err := env.plotRepo.ByID(ctx, plot.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsHeld)

	t.Run("SecondUserRejected", func(t *testing.T) {
		_, err := env.holdings.PlaceHold(ctx, businessflow.PlaceHoldRequest{UserID: 2, PlotID: plot.ID, InvestmentID: 12, Amount: dec("5000")})
		assert.True(t, businessflow.IsPlotAlreadyHeld(err))
	})

	t.Run("ReleaseFreesPlot", func(t *testing.T) {
		released, err := env.holdings.ReleaseHold(ctx, holding.ID, "changed mind")
		require.NoError(t, err)
		assert.Equal(t, models.HoldStatusReleased, released.HoldStatus)
		assert.Equal(t, models.HoldingStatusExpired, released.Status)

		stored, err := env.plotRepo.ByID(ctx, plot.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsHeld)

		_, err = env.holdings.ReleaseHold(ctx, holding.ID, "again")
		assert.True(t, businessflow.IsHoldNotActive(err))

		next, err := env.holdings.PlaceHold(ctx, businessflow.PlaceHoldRequest{UserID: 2, PlotID: plot.ID, InvestmentID: 12, Amount: dec("5000")})
		require.NoError(t, err)
		assert.Equal(t, uint(2), next.UserID)
	})

	t.Run("UserHoldsPlotOnce", func(t *testing.T) {
		holdings, err := env.holdings.ListHoldings(ctx, models.PlotHoldingFilter{PlotID: &plot.ID, HoldStatus: utils.ToPtr(models.HoldStatusActive)}, 0, 0)
		require.NoError(t, err)
		require.Len(t, holdings, 1)
		_, err = env.holdings.CancelHold(ctx, holdings[0].ID, "admin")
		require.NoError(t, err)

		previous, err := env.holdingRepo.ByUserAndPlot(ctx, 1, plot.ID)
		require.NoError(t, err)
		require.NotNil(t, previous)
		assert.Equal(t, models.HoldStatusReleased, previous.HoldStatus)

		_, err = env.holdings.PlaceHold(ctx, businessflow.PlaceHoldRequest{UserID: 1, PlotID: plot.ID, InvestmentID: 13, Amount: dec("5000")})
		assert.True(t, businessflow.IsPlotAlreadyHeld(err))

		stored, err := env.plotRepo.ByID(ctx, plot.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsHeld)
	})

	t.Run("IneligibleUser", func(t *testing.T) {
		guarded, err := env.fixtures.CreatePlot(project.ID, testingutil.PlotOptions{TeamValueRequired: "50000"})
		require.NoError(t, err)
		_, err = env.fixtures.SetTeamStats(5, "30000", 10)
		require.NoError(t, err)

		_, err = env.holdings.PlaceHold(ctx, businessflow.PlaceHoldRequest{UserID: 5, PlotID: guarded.ID, InvestmentID: 14, Amount: dec("5000")})
		assert.True(t, businessflow.IsEligibilityNotMet(err))
		assert.Contains(t, err.Error(), businessflow.ReasonTeamValueRequired)

		stored, err := env.plotRepo.ByID(ctx, guarded.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsHeld)
	})

	t.Run("SoldPlot", func(t *testing.T) {
		sold, err := env.fixtures.CreatePlot(project.ID, testingutil.PlotOptions{})
		require.NoError(t, err)
		_, err = env.holdings.MarkPlotSold(ctx, sold.ID)
		require.NoError(t, err)

		_, err = env.holdings.PlaceHold(ctx, businessflow.PlaceHoldRequest{UserID: 6, PlotID: sold.ID, InvestmentID: 15, Amount: dec("5000")})
		assert.True(t, businessflow.IsPlotSold(err))

		_, err = env.holdings.MarkPlotSold(ctx, sold.ID)
		assert.True(t, businessflow.IsPlotSold(err))
	})
}

func TestConcurrentPlaceHoldHasOneWinner(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	project, err := env.fixtures.CreateProject("Riverside")
	require.NoError(t, err)
	plot, err := env.fixtures.CreatePlot(project.ID, testingutil.PlotOptions{})
	require.NoError(t, err)

	const contenders = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		conflict int
	)
	for i := 1; i <= contenders; i++ {
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			_, err := env.holdings.PlaceHold(ctx, businessflow.PlaceHoldRequest{UserID: userID, PlotID: plot.ID, InvestmentID: userID, Amount: dec("1000")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case businessflow.IsPlotAlreadyHeld(err):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(uint(i))
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, contenders-1, conflict)

	active, err := env.holdingRepo.ActiveByPlot(ctx, plot.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
}

func TestSweepExpired(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	project, err := env.fixtures.CreateProject("Orchard")
	require.NoError(t, err)

	var plots []*models.Plot
	for i := 0; i < 3; i++ {
		plot, err := env.fixtures.CreatePlot(project.ID, testingutil.PlotOptions{LockPeriodDays: 30})
		require.NoError(t, err)
		_, err = env.holdings.PlaceHold(ctx, businessflow.PlaceHoldRequest{UserID: uint(i + 1), PlotID: plot.ID, InvestmentID: uint(i + 1), Amount: dec("1000")})
		require.NoError(t, err)
		plots = append(plots, plot)
	}
	longPlot, err := env.fixtures.CreatePlot(project.ID, testingutil.PlotOptions{LockPeriodDays: 120})
	require.NoError(t, err)
	_, err = env.holdings.PlaceHold(ctx, businessflow.PlaceHoldRequest{UserID: 9, PlotID: longPlot.ID, InvestmentID: 9, Amount: dec("1000")})
	require.NoError(t, err)

	t.Run("NothingDueYet", func(t *testing.T) {
		n, err := env.holdings.SweepExpired(ctx, env.now.Add(29*utils.Day))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	env.advance(31 * utils.Day)
	env.recorder.Reset()

	n, err := env.holdings.SweepExpired(ctx, env.now)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "sweeps past the batch size")
	assert.Len(t, env.recorder.OfType(events.TypeHoldExpired), 3)

	for _, p := range plots {
		stored, err := env.plotRepo.ByID(ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsHeld)
	}
	stillHeld, err := env.plotRepo.ByID(ctx, longPlot.ID)
	require.NoError(t, err)
	assert.True(t, stillHeld.IsHeld)

	t.Run("Idempotent", func(t *testing.T) {
		n, err := env.holdings.SweepExpired(ctx, env.now.Add(time.Minute))
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, int64(1), env.auditCount(t, models.AuditActionHoldsExpired))
	})
}

func TestSweepExpiredStampsSweepTime(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	project, err := env.fixtures.CreateProject("Meadow")
	require.NoError(t, err)
	plot, err := env.fixtures.CreatePlot(project.ID, testingutil.PlotOptions{LockPeriodDays: 30})
	require.NoError(t, err)
	holding, err := env.holdings.PlaceHold(ctx, businessflow.PlaceHoldRequest{UserID: 1, PlotID: plot.ID, InvestmentID: 1, Amount: dec("1000")})
	require.NoError(t, err)

	// The flow clock stays put; the sweep runs as of a later instant
	sweptAt := env.now.Add(45 * utils.Day)
	n, err := env.holdings.SweepExpired(ctx, sweptAt)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := env.holdingRepo.ByID(ctx, holding.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReleasedAt)
	assert.True(t, stored.ReleasedAt.Equal(sweptAt), "released_at %s, swept at %s", stored.ReleasedAt, sweptAt)
	assert.Equal(t, models.HoldStatusExpired, stored.HoldStatus)

	assert.Len(t, env.recorder.OfType(events.TypeHoldExpired), 1)
}
