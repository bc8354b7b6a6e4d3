package businessflow_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/amirphl/plotshare/app/events"
	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/amirphl/plotshare/models"
	testingutil "github.com/amirphl/plotshare/testing"
	"github.com/amirphl/plotshare/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// saleScenario is a project with one plot to sell and its contributing investors
type saleScenario struct {
	project *models.PropertyProject
	plot    *models.Plot
	wallets map[uint]*models.Wallet
}

func newSaleScenario(t *testing.T, env *flowEnv, name string, contributions map[uint]string) *saleScenario {
	t.Helper()

	project, err := env.fixtures.CreateProject(name)
	require.NoError(t, err)
	plot, err := env.fixtures.CreatePlot(project.ID, testingutil.PlotOptions{Price: "100000"})
	require.NoError(t, err)
	allocation, err := models.SingleTarget(project.ID)
	require.NoError(t, err)

	s := &saleScenario{project: project, plot: plot, wallets: map[uint]*models.Wallet{}}
	for userID, amount := range contributions {
		wallet, err := env.fixtures.CreateWallet(userID)
		require.NoError(t, err)
		s.wallets[userID] = wallet
		_, err = env.fixtures.CreateApprovedInvestment(userID, amount, models.InvestmentTypeProjectSpecific, allocation)
		require.NoError(t, err)
	}
	return s
}

func TestRecordSale(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	project, err := env.fixtures.CreateProject("Coast")
	require.NoError(t, err)
	plot, err := env.fixtures.CreatePlot(project.ID, testingutil.PlotOptions{})
	require.NoError(t, err)
	holding, err := env.holdings.PlaceHold(ctx, businessflow.PlaceHoldRequest{UserID: 1, PlotID: plot.ID, InvestmentID: 1, Amount: dec("1000")})
	require.NoError(t, err)

	t.Run("InvalidPercentage", func(t *testing.T) {
		_, err := env.engine.RecordSale(ctx, businessflow.RecordSaleRequest{
			PlotID:            plot.ID,
			SalePrice:         dec("110000"),
			OriginalPrice:     dec("100000"),
			CompanyPercentage: utils.ToPtr(dec("120")),
		})
		assert.True(t, businessflow.IsInvalidPercentage(err))
	})

	sale, err := env.engine.RecordSale(ctx, businessflow.RecordSaleRequest{
		PlotID:        plot.ID,
		SalePrice:     dec("110000"),
		OriginalPrice: dec("100000"),
	})
	require.NoError(t, err)
	assertAmount(t, "10000", sale.ProfitAmount)
	assertAmount(t, "20", sale.CompanyPercentage)
	assertAmount(t, "2000", sale.CompanyProfit)
	assertAmount(t, "8000", sale.InvestorProfit)
	assert.Equal(t, project.ID, sale.PropertyProjectID)
	assert.Equal(t, models.SaleStatusCompleted, sale.Status)

	storedPlot, err := env.plotRepo.ByID(ctx, plot.ID)
	require.NoError(t, err)
	assert.True(t, storedPlot.IsSold())
	storedHolding, err := env.holdingRepo.ByID(ctx, holding.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldingStatusSold, storedHolding.Status)
	assert.False(t, storedHolding.IsActive())

	t.Run("OncePerPlot", func(t *testing.T) {
		_, err := env.engine.RecordSale(ctx, businessflow.RecordSaleRequest{
			PlotID:        plot.ID,
			SalePrice:     dec("120000"),
			OriginalPrice: dec("100000"),
		})
		assert.ErrorIs(t, err, businessflow.ErrSaleAlreadyRecorded)
	})

	t.Run("UnknownPlot", func(t *testing.T) {
		_, err := env.engine.RecordSale(ctx, businessflow.RecordSaleRequest{PlotID: 999, SalePrice: dec("1"), OriginalPrice: dec("0")})
		assert.ErrorIs(t, err, businessflow.ErrPlotNotFound)
	})
}

func TestCalculateAndDistributeProfit(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	s := newSaleScenario(t, env, "Valley", map[uint]string{1: "6000", 2: "4000"})

	// General capital never shares a sale
	_, err := env.fixtures.CreateWallet(3)
	require.NoError(t, err)
	_, err = env.fixtures.CreateApprovedInvestment(3, "50000", models.InvestmentTypeGeneral, models.Allocation{})
	require.NoError(t, err)

	sale, err := env.engine.RecordSale(ctx, businessflow.RecordSaleRequest{
		PlotID:            s.plot.ID,
		SalePrice:         dec("110000"),
		OriginalPrice:     dec("100000"),
		CompanyPercentage: utils.ToPtr(dec("20")),
	})
	require.NoError(t, err)

	t.Run("DistributeNeedsCalculation", func(t *testing.T) {
		_, err := env.engine.Distribute(ctx, sale.ID)
		assert.ErrorIs(t, err, businessflow.ErrProfitsNotCalculated)
	})

	profits, err := env.engine.CalculateProfit(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, profits, 2)

	byUser := map[uint]*models.Profit{}
	for _, p := range profits {
		byUser[p.UserID] = p
		assert.Equal(t, models.ProfitStatusCalculated, p.Status)
		assertAmount(t, "10000", p.TotalProjectInvestment)
		assert.True(t, p.SharesConsistent(dec("0.01")))
	}
	assertAmount(t, "4800", byUser[1].InvestorShare)
	assertAmount(t, "1200", byUser[1].CompanyShare)
	assertAmount(t, "6000", byUser[1].TotalProfit)
	assertAmount(t, "60", byUser[1].ProfitPercentage)
	assertAmount(t, "3200", byUser[2].InvestorShare)
	assertAmount(t, "800", byUser[2].CompanyShare)
	assertAmount(t, "4000", byUser[2].UserInvestmentAmount)

	_, err = env.engine.CalculateProfit(ctx, sale.ID)
	assert.ErrorIs(t, err, businessflow.ErrProfitsAlreadyCalculated)

	env.recorder.Reset()
	result, err := env.engine.Distribute(ctx, sale.ID)
	require.NoError(t, err)
	assertAmount(t, "8000", result.TotalCredited)
	assert.Equal(t, models.SaleStatusDistributed, result.Sale.Status)

	assertAmount(t, "4800", env.wallet(t, s.wallets[1].ID).Balance)
	assertAmount(t, "3200", env.wallet(t, s.wallets[2].ID).Balance)
	for _, w := range s.wallets {
		require.NoError(t, env.ledger.VerifyWalletIntegrity(ctx, w.ID))
	}

	stored, err := env.engine.ListProfits(ctx, sale.ID)
	require.NoError(t, err)
	for _, p := range stored {
		assert.Equal(t, models.ProfitStatusCredited, p.Status)
		require.NotNil(t, p.CreditTransactionID)
		credit, err := env.transactionRepo.ByID(ctx, *p.CreditTransactionID)
		require.NoError(t, err)
		assert.Equal(t, utils.ProfitReference(sale.ID, p.UserID), credit.Reference)
		require.NotNil(t, credit.ProfitID)
		assert.Equal(t, p.ID, *credit.ProfitID)
	}

	distributed := env.recorder.OfType(events.TypeProfitDistributed)
	require.Len(t, distributed, 1)
	assert.Len(t, env.recorder.OfType(events.TypeTransactionCompleted), 2)

	t.Run("OnlyOnce", func(t *testing.T) {
		_, err := env.engine.Distribute(ctx, sale.ID)
		assert.ErrorIs(t, err, businessflow.ErrProfitsDistributed)
		assertAmount(t, "4800", env.wallet(t, s.wallets[1].ID).Balance)
	})
}

func TestProfitResidualGoesToLargestContributor(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	s := newSaleScenario(t, env, "Ridge", map[uint]string{1: "1000", 2: "1000", 3: "1000"})
	sale, err := env.engine.RecordSale(ctx, businessflow.RecordSaleRequest{
		PlotID:        s.plot.ID,
		SalePrice:     dec("110000"),
		OriginalPrice: dec("100000"),
	})
	require.NoError(t, err)

	profits, err := env.engine.CalculateProfit(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, profits, 3)

	// Ties go to the first contributor in user order
	assertAmount(t, "2666.68", profits[0].InvestorShare)
	assertAmount(t, "2666.66", profits[1].InvestorShare)
	assertAmount(t, "2666.66", profits[2].InvestorShare)
	assertAmount(t, "666.68", profits[0].CompanyShare)
	assertAmount(t, "666.66", profits[1].CompanyShare)

	investorSum := profits[0].InvestorShare.Add(profits[1].InvestorShare).Add(profits[2].InvestorShare)
	assertAmount(t, "8000", investorSum)
	for _, p := range profits {
		assert.True(t, p.CompanyShare.Add(p.InvestorShare).Equal(p.TotalProfit))
	}
}

func TestProfitCountsPlotAllocationsInsideProject(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	s := newSaleScenario(t, env, "Delta", map[uint]string{1: "5000"})

	other, err := env.fixtures.CreateProject("Elsewhere")
	require.NoError(t, err)
	outside, err := env.fixtures.CreatePlot(other.ID, testingutil.PlotOptions{})
	require.NoError(t, err)
	inside, err := env.fixtures.CreatePlot(s.project.ID, testingutil.PlotOptions{})
	require.NoError(t, err)

	allocation, err := models.NewAllocation(
		models.AllocationEntry{TargetID: inside.ID, Percentage: dec("50")},
		models.AllocationEntry{TargetID: outside.ID, Percentage: dec("50")},
	)
	require.NoError(t, err)
	_, err = env.fixtures.CreateWallet(2)
	require.NoError(t, err)
	_, err = env.fixtures.CreateApprovedInvestment(2, "10000", models.InvestmentTypePlotSpecific, allocation)
	require.NoError(t, err)

	sale, err := env.engine.RecordSale(ctx, businessflow.RecordSaleRequest{
		PlotID:            s.plot.ID,
		SalePrice:         dec("101000"),
		OriginalPrice:     dec("100000"),
		CompanyPercentage: utils.ToPtr(dec("0")),
	})
	require.NoError(t, err)

	profits, err := env.engine.CalculateProfit(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, profits, 2)
	assertAmount(t, "5000", profits[1].UserInvestmentAmount)
	assertAmount(t, "500", profits[0].InvestorShare)
	assertAmount(t, "500", profits[1].InvestorShare)
	assertAmount(t, "0", profits[1].CompanyShare)
}

func TestDistributeIsAllOrNothing(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	s := newSaleScenario(t, env, "Canyon", map[uint]string{1: "5000", 2: "5000"})
	sale, err := env.engine.RecordSale(ctx, businessflow.RecordSaleRequest{
		PlotID:        s.plot.ID,
		SalePrice:     dec("110000"),
		OriginalPrice: dec("100000"),
	})
	require.NoError(t, err)
	_, err = env.engine.CalculateProfit(ctx, sale.ID)
	require.NoError(t, err)

	require.NoError(t, env.walletRepo.UpdateStatus(ctx, s.wallets[2].ID, models.WalletStatusClosed))
	env.recorder.Reset()

	_, err = env.engine.Distribute(ctx, sale.ID)
	require.Error(t, err)
	assert.True(t, businessflow.IsDistributionFailed(err))
	assert.True(t, businessflow.IsWalletFrozen(err))
	var dfe *businessflow.DistributionFailedError
	require.True(t, errors.As(err, &dfe))
	assert.Equal(t, uint(2), dfe.UserID)
	assert.Equal(t, sale.ID, dfe.SaleID)

	// The first investor's credit was rolled back with the rest
	assertAmount(t, "0", env.wallet(t, s.wallets[1].ID).Balance)
	profits, err := env.engine.ListProfits(ctx, sale.ID)
	require.NoError(t, err)
	for _, p := range profits {
		assert.Equal(t, models.ProfitStatusCalculated, p.Status)
		assert.Nil(t, p.CreditTransactionID)
	}
	stored, err := env.engine.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusProfitsCalculated, stored.Status)
	assert.Empty(t, env.recorder.Events())
	assert.Equal(t, int64(1), env.auditCount(t, models.AuditActionDistributionFailed))

	require.NoError(t, env.walletRepo.UpdateStatus(ctx, s.wallets[2].ID, models.WalletStatusActive))
	result, err := env.engine.Distribute(ctx, sale.ID)
	require.NoError(t, err)
	assertAmount(t, "8000", result.TotalCredited)
	assertAmount(t, "4000", env.wallet(t, s.wallets[1].ID).Balance)
	assertAmount(t, "4000", env.wallet(t, s.wallets[2].ID).Balance)
}

func TestCalculateProfitRejections(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	t.Run("Loss", func(t *testing.T) {
		s := newSaleScenario(t, env, "Marsh", map[uint]string{1: "5000"})
		sale, err := env.engine.RecordSale(ctx, businessflow.RecordSaleRequest{
			PlotID:        s.plot.ID,
			SalePrice:     dec("90000"),
			OriginalPrice: dec("100000"),
		})
		require.NoError(t, err)
		assertAmount(t, "0", sale.ProfitAmount)
		assertAmount(t, "0", sale.InvestorProfit)
		assertAmount(t, "0", sale.CompanyProfit)

		stored, err := env.engine.GetSale(ctx, sale.ID)
		require.NoError(t, err)
		assertAmount(t, "0", stored.ProfitAmount)
		assert.True(t, stored.ProfitAmount.Equal(stored.InvestorProfit.Add(stored.CompanyProfit)))
		assertAmount(t, "-10000", stored.SalePrice.Sub(stored.OriginalPrice), "the loss stays derivable")

		_, err = env.engine.CalculateProfit(ctx, sale.ID)
		assert.ErrorIs(t, err, businessflow.ErrNoProfitToDistribute)
	})

	t.Run("NoInvestors", func(t *testing.T) {
		s := newSaleScenario(t, env, "Dune", nil)
		sale, err := env.engine.RecordSale(ctx, businessflow.RecordSaleRequest{
			PlotID:        s.plot.ID,
			SalePrice:     dec("110000"),
			OriginalPrice: dec("100000"),
		})
		require.NoError(t, err)

		_, err = env.engine.CalculateProfit(ctx, sale.ID)
		assert.ErrorIs(t, err, businessflow.ErrNoContributingInvestors)
	})

	t.Run("UnknownSale", func(t *testing.T) {
		_, err := env.engine.CalculateProfit(ctx, 5050)
		assert.ErrorIs(t, err, businessflow.ErrSaleNotFound)
	})
}

func TestExportProfitsXLSX(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	s := newSaleScenario(t, env, "Grove", map[uint]string{1: "6000", 2: "4000"})
	sale, err := env.engine.RecordSale(ctx, businessflow.RecordSaleRequest{
		PlotID:        s.plot.ID,
		SalePrice:     dec("110000"),
		OriginalPrice: dec("100000"),
	})
	require.NoError(t, err)
	_, err = env.engine.CalculateProfit(ctx, sale.ID)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, env.engine.ExportProfitsXLSX(ctx, sale.ID, &buf))

	xl, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	rows, err := xl.GetRows(xl.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "profit_id", rows[0][0])
	assert.Equal(t, "1", rows[1][1])
	assert.Equal(t, "4800.00", rows[1][7])
	assert.Equal(t, "3200.00", rows[2][7])
	assert.Equal(t, "calculated", rows[1][10])
}
