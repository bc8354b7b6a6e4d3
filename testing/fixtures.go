package testing

import (
	"fmt"
	"time"

	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/utils"
	"github.com/shopspring/decimal"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB

	plotSeq int
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateWallet creates an empty active wallet for a user
func (tf *TestFixtures) CreateWallet(userID uint) (*models.Wallet, error) {
	wallet := &models.Wallet{
		UserID: userID,
		Status: models.WalletStatusActive,
	}
	if err := tf.DB.DB.Create(wallet).Error; err != nil {
		return nil, fmt.Errorf("failed to create test wallet: %w", err)
	}
	return wallet, nil
}

// CreateFundedWallet creates a wallet and a completed seed deposit so the balance matches
// the sum of its transactions
func (tf *TestFixtures) CreateFundedWallet(userID uint, balance string) (*models.Wallet, error) {
	amount := decimal.RequireFromString(balance)
	now := utils.UTCNow()

	wallet := &models.Wallet{
		UserID:        userID,
		Balance:       amount,
		TotalDeposits: amount,
		Status:        models.WalletStatusActive,
	}
	if err := tf.DB.DB.Create(wallet).Error; err != nil {
		return nil, fmt.Errorf("failed to create test wallet: %w", err)
	}

	seed := &models.Transaction{
		Type:          models.TransactionTypeDeposit,
		Status:        models.TransactionStatusCompleted,
		Amount:        amount,
		BalanceBefore: decimal.Zero,
		BalanceAfter:  amount,
		Currency:      models.DefaultCurrency,
		WalletID:      wallet.ID,
		UserID:        userID,
		Reference:     "SEED-" + utils.NewULID(),
		PaymentMethod: "seed",
		CompletedAt:   &now,
	}
	if err := tf.DB.DB.Create(seed).Error; err != nil {
		return nil, fmt.Errorf("failed to create seed deposit: %w", err)
	}

	return wallet, nil
}

// CreateProject creates an open property project
func (tf *TestFixtures) CreateProject(name string) (*models.PropertyProject, error) {
	project := &models.PropertyProject{
		Name:   name,
		Status: models.ProjectStatusOpen,
	}
	if err := tf.DB.DB.Create(project).Error; err != nil {
		return nil, fmt.Errorf("failed to create test project: %w", err)
	}
	return project, nil
}

// PlotOptions overrides the defaults of CreatePlot
type PlotOptions struct {
	Price               string
	TeamValueRequired   string
	TeamMembersRequired int
	InvestmentRequired  string
	LockPeriodDays      int
	TransferAllowed     bool
}

// CreatePlot creates an available plot in the project
func (tf *TestFixtures) CreatePlot(projectID uint, opts PlotOptions) (*models.Plot, error) {
	tf.plotSeq++
	plot := &models.Plot{
		PropertyProjectID:   projectID,
		Code:                fmt.Sprintf("P-%d-%d", projectID, tf.plotSeq),
		Price:               decimalOr(opts.Price, "100000"),
		TeamValueRequired:   decimalOr(opts.TeamValueRequired, "0"),
		TeamMembersRequired: opts.TeamMembersRequired,
		InvestmentRequired:  decimalOr(opts.InvestmentRequired, "0"),
		LockPeriodDays:      opts.LockPeriodDays,
		TransferAllowed:     opts.TransferAllowed,
		Status:              models.PlotStatusAvailable,
	}
	if plot.LockPeriodDays == 0 {
		plot.LockPeriodDays = 30
	}
	if err := tf.DB.DB.Create(plot).Error; err != nil {
		return nil, fmt.Errorf("failed to create test plot: %w", err)
	}
	return plot, nil
}

// SetTeamStats stores the referral-team aggregate of a user
func (tf *TestFixtures) SetTeamStats(userID uint, teamValue string, members int) (*models.TeamStats, error) {
	stats := &models.TeamStats{
		UserID:      userID,
		TeamValue:   decimal.RequireFromString(teamValue),
		MemberCount: members,
	}
	if err := tf.DB.DB.Create(stats).Error; err != nil {
		return nil, fmt.Errorf("failed to create team stats: %w", err)
	}
	return stats, nil
}

// CreateApprovedInvestment inserts an approved investment without touching any wallet.
// Profit tests use it to describe contributions directly.
func (tf *TestFixtures) CreateApprovedInvestment(userID uint, amount string, investmentType models.InvestmentType, allocation models.Allocation) (*models.Investment, error) {
	now := utils.UTCNow()
	maturity := now.Add(365 * 24 * time.Hour)
	inv := &models.Investment{
		UserID:         userID,
		Amount:         decimal.RequireFromString(amount),
		InvestmentType: investmentType,
		Status:         models.InvestmentStatusApproved,
		MaturityDate:   &maturity,
		ApprovalDate:   &now,
	}
	switch investmentType {
	case models.InvestmentTypeProjectSpecific:
		inv.ProjectAllocation = allocation
		if ids := allocation.TargetIDs(); len(ids) == 1 {
			inv.PropertyProjectID = &ids[0]
		}
	case models.InvestmentTypePlotSpecific:
		inv.PlotAllocation = allocation
		if ids := allocation.TargetIDs(); len(ids) == 1 {
			inv.PlotID = &ids[0]
		}
	}
	if err := tf.DB.DB.Create(inv).Error; err != nil {
		return nil, fmt.Errorf("failed to create test investment: %w", err)
	}
	return inv, nil
}

func decimalOr(value, fallback string) decimal.Decimal {
	if value == "" {
		value = fallback
	}
	return decimal.RequireFromString(value)
}
