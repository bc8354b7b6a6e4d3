// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/plotshare/models"
	"github.com/shopspring/decimal"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// WalletBalances are the mutable columns of a wallet written together under a version check
type WalletBalances struct {
	Balance          decimal.Decimal
	FrozenAmount     decimal.Decimal
	PendingAmount    decimal.Decimal
	TotalDeposits    decimal.Decimal
	TotalWithdrawals decimal.Decimal
	TotalInvestments decimal.Decimal
	TotalProfits     decimal.Decimal
}

// WalletRepository defines operations for wallets
type WalletRepository interface {
	Repository[models.Wallet, models.WalletFilter]
	ByIDForUpdate(ctx context.Context, id uint) (*models.Wallet, error)
	ByUserID(ctx context.Context, userID uint) (*models.Wallet, error)
	// UpdateBalancesOptimistic writes balances only if the stored version still equals expectedVersion
	UpdateBalancesOptimistic(ctx context.Context, walletID uint, balances WalletBalances, expectedVersion int64) error
	UpdateStatus(ctx context.Context, walletID uint, status models.WalletStatus) error
}

// TransactionRepository defines operations for ledger transactions
type TransactionRepository interface {
	Repository[models.Transaction, models.TransactionFilter]
	ByIDForUpdate(ctx context.Context, id uint) (*models.Transaction, error)
	ByReference(ctx context.Context, reference string) (*models.Transaction, error)
	ByReversalOf(ctx context.Context, originalID uint) (*models.Transaction, error)
	// Finalize moves a pending transaction to a terminal status, stamping the applied balances
	Finalize(ctx context.Context, id uint, status models.TransactionStatus, balanceBefore, balanceAfter decimal.Decimal, at time.Time) (bool, error)
	MarkReversed(ctx context.Context, id uint, at time.Time) (bool, error)
	SumCompletedSigned(ctx context.Context, walletID uint) (decimal.Decimal, error)
}

// PropertyProjectRepository defines operations for property projects
type PropertyProjectRepository interface {
	ByID(ctx context.Context, id uint) (*models.PropertyProject, error)
	Save(ctx context.Context, project *models.PropertyProject) error
}

// PlotRepository defines operations for plots
type PlotRepository interface {
	Repository[models.Plot, models.PlotFilter]
	ByIDForUpdate(ctx context.Context, id uint) (*models.Plot, error)
	ByIDs(ctx context.Context, ids []uint) ([]*models.Plot, error)
	// MarkHeld flips is_held from false to true; false means someone else holds the plot
	MarkHeld(ctx context.Context, plotID uint) (bool, error)
	MarkFree(ctx context.Context, plotID uint) error
	MarkSold(ctx context.Context, plotID uint) (bool, error)
}

// PlotHoldingRepository defines operations for plot holdings
type PlotHoldingRepository interface {
	Repository[models.PlotHolding, models.PlotHoldingFilter]
	ActiveByPlot(ctx context.Context, plotID uint) (*models.PlotHolding, error)
	ByUserAndPlot(ctx context.Context, userID, plotID uint) (*models.PlotHolding, error)
	ListActiveByInvestment(ctx context.Context, investmentID uint) ([]*models.PlotHolding, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.PlotHolding, error)
	// TransitionHold leaves the active hold status; false means the hold was no longer active
	TransitionHold(ctx context.Context, id uint, to models.HoldStatus, holdingStatus *models.HoldingStatus, reason *string, at time.Time) (bool, error)
	MarkSoldByPlot(ctx context.Context, plotID uint, at time.Time) (int64, error)
}

// InvestmentRepository defines operations for investments
type InvestmentRepository interface {
	Repository[models.Investment, models.InvestmentFilter]
	ByIDForUpdate(ctx context.Context, id uint) (*models.Investment, error)
	// TransitionStatus moves an investment from one status to another with extra column updates
	TransitionStatus(ctx context.Context, id uint, from, to models.InvestmentStatus, updates map[string]any) (bool, error)
	SetDebitTransaction(ctx context.Context, id uint, transactionID uint) error
	ListDueForMaturity(ctx context.Context, now time.Time, limit int) ([]*models.Investment, error)
	ListProfitEligible(ctx context.Context, types []models.InvestmentType) ([]*models.Investment, error)
}

// SaleRepository defines operations for sales
type SaleRepository interface {
	Repository[models.Sale, models.SaleFilter]
	ByIDForUpdate(ctx context.Context, id uint) (*models.Sale, error)
	ByPlotID(ctx context.Context, plotID uint) (*models.Sale, error)
	TransitionStatus(ctx context.Context, id uint, from, to models.SaleStatus, updates map[string]any) (bool, error)
}

// ProfitRepository defines operations for per-investor profit rows
type ProfitRepository interface {
	Repository[models.Profit, models.ProfitFilter]
	BySale(ctx context.Context, saleID uint) ([]*models.Profit, error)
	TransitionStatus(ctx context.Context, id uint, from, to models.ProfitStatus, updates map[string]any) (bool, error)
}

// TeamStatsRepository reads the referral-team aggregate
type TeamStatsRepository interface {
	ByUserID(ctx context.Context, userID uint) (*models.TeamStats, error)
	Save(ctx context.Context, stats *models.TeamStats) error
}

// AuditLogRepository defines operations for audit logs
type AuditLogRepository interface {
	Repository[models.AuditLog, models.AuditLogFilter]
}
