package businessflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/plotshare/app/events"
	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/amirphl/plotshare/config"
	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/repository"
	testingutil "github.com/amirphl/plotshare/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flowEnv wires every flow against one fresh database and a pinned clock
type flowEnv struct {
	db       *testingutil.TestDB
	fixtures *testingutil.TestFixtures
	recorder *events.Recorder
	now      time.Time

	walletRepo      repository.WalletRepository
	transactionRepo repository.TransactionRepository
	projectRepo     repository.PropertyProjectRepository
	plotRepo        repository.PlotRepository
	holdingRepo     repository.PlotHoldingRepository
	investmentRepo  repository.InvestmentRepository
	saleRepo        repository.SaleRepository
	profitRepo      repository.ProfitRepository
	teamStatsRepo   repository.TeamStatsRepository
	auditRepo       repository.AuditLogRepository

	ledger    businessflow.WalletLedger
	holdings  businessflow.HoldingManager
	allocator businessflow.InvestmentAllocator
	engine    businessflow.ProfitDistributionEngine
}

func testInvestmentConfig() config.InvestmentConfig {
	return config.InvestmentConfig{
		MinAmount:             decimal.NewFromInt(1000),
		MaxAmount:             decimal.NewFromInt(100_000_000),
		DefaultReturnRate:     decimal.NewFromInt(12),
		DefaultMaturityDays:   365,
		DefaultLockPeriodDays: 90,
		Currency:              models.DefaultCurrency,
	}
}

func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()

	testDB, err := testingutil.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = testDB.TeardownTestDB() })

	db := testDB.DB
	env := &flowEnv{
		db:       testDB,
		fixtures: testingutil.NewTestFixtures(testDB),
		recorder: events.NewRecorder(),
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),

		walletRepo:      repository.NewWalletRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		projectRepo:     repository.NewPropertyProjectRepository(db),
		plotRepo:        repository.NewPlotRepository(db),
		holdingRepo:     repository.NewPlotHoldingRepository(db),
		investmentRepo:  repository.NewInvestmentRepository(db),
		saleRepo:        repository.NewSaleRepository(db),
		profitRepo:      repository.NewProfitRepository(db),
		teamStatsRepo:   repository.NewTeamStatsRepository(db),
		auditRepo:       repository.NewAuditLogRepository(db),
	}
	clock := func() time.Time { return env.now }

	env.ledger = businessflow.NewWalletLedger(env.walletRepo, env.transactionRepo, env.auditRepo,
		db, env.recorder, nil, clock, models.DefaultCurrency)
	env.holdings = businessflow.NewHoldingManager(env.plotRepo, env.holdingRepo, env.teamStatsRepo, env.auditRepo,
		db, env.recorder, nil, clock, 90, 2)
	env.allocator = businessflow.NewInvestmentAllocator(env.investmentRepo, env.projectRepo, env.plotRepo,
		env.holdingRepo, env.auditRepo, env.ledger, env.holdings, db, env.recorder, nil, clock, testInvestmentConfig())
	env.engine = businessflow.NewProfitDistributionEngine(env.saleRepo, env.profitRepo, env.plotRepo,
		env.investmentRepo, env.teamStatsRepo, env.auditRepo, env.ledger, env.holdings, db, env.recorder, nil, clock,
		config.ProfitConfig{DefaultCompanyPercentage: decimal.NewFromInt(20), CurrencyPrecision: 2})
	return env
}

func (env *flowEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func (env *flowEnv) wallet(t *testing.T, walletID uint) *models.Wallet {
	t.Helper()
	w, err := env.walletRepo.ByID(context.Background(), walletID)
	require.NoError(t, err)
	require.NotNil(t, w)
	return w
}

func (env *flowEnv) auditCount(t *testing.T, action string) int64 {
	t.Helper()
	n, err := env.auditRepo.Count(context.Background(), models.AuditLogFilter{Action: &action})
	require.NoError(t, err)
	return n
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// assertAmount compares money by value; stored decimals lose their trailing zeros
func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "expected %s, got %s %v", want, got.String(), msgAndArgs)
}
