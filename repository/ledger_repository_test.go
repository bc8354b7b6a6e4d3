package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/repository"
	testingutil "github.com/amirphl/plotshare/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateBalancesOptimistic(t *testing.T) {
	testDB := setupRepoDB(t)
	ctx := context.Background()
	fixtures := testingutil.NewTestFixtures(testDB)
	repo := repository.NewWalletRepository(testDB.DB)

	wallet, err := fixtures.CreateFundedWallet(1, "1000")
	require.NoError(t, err)

	balances := repository.WalletBalances{
		Balance:       decimal.NewFromInt(900),
		TotalDeposits: decimal.NewFromInt(1000),
	}
	require.NoError(t, repo.UpdateBalancesOptimistic(ctx, wallet.ID, balances, wallet.Version))

	// A second writer holding the old version loses
	err = repo.UpdateBalancesOptimistic(ctx, wallet.ID, balances, wallet.Version)
	assert.ErrorIs(t, err, repository.ErrVersionMismatch)

	stored, err := repo.ByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, wallet.Version+1, stored.Version)
	assert.True(t, decimal.NewFromInt(900).Equal(stored.Balance))
}

func TestTransactionReferenceIsUnique(t *testing.T) {
	testDB := setupRepoDB(t)
	ctx := context.Background()
	fixtures := testingutil.NewTestFixtures(testDB)
	repo := repository.NewTransactionRepository(testDB.DB)

	wallet, err := fixtures.CreateWallet(1)
	require.NoError(t, err)

	newTxn := func() *models.Transaction {
		return &models.Transaction{
			Type:          models.TransactionTypeDeposit,
			Status:        models.TransactionStatusPending,
			Amount:        decimal.NewFromInt(10),
			Currency:      models.DefaultCurrency,
			WalletID:      wallet.ID,
			UserID:        wallet.UserID,
			Reference:     "DEP-1",
			PaymentMethod: "gateway",
		}
	}
	require.NoError(t, repo.Save(ctx, newTxn()))

	err = repo.Save(ctx, newTxn())
	require.Error(t, err)
	assert.True(t, repository.IsUniqueViolation(err))

	found, err := repo.ByReference(ctx, "DEP-1")
	require.NoError(t, err)
	require.NotNil(t, found)

	missing, err := repo.ByReference(ctx, "DEP-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSumCompletedSigned(t *testing.T) {
	testDB := setupRepoDB(t)
	ctx := context.Background()
	fixtures := testingutil.NewTestFixtures(testDB)
	repo := repository.NewTransactionRepository(testDB.DB)

	wallet, err := fixtures.CreateFundedWallet(1, "1000")
	require.NoError(t, err)

	now := time.Now().UTC()
	for _, txn := range []*models.Transaction{
		{Type: models.TransactionTypeInvestment, Status: models.TransactionStatusCompleted, Amount: decimal.NewFromInt(300), Reference: "INV-1", CompletedAt: &now},
		{Type: models.TransactionTypeProfit, Status: models.TransactionStatusCompleted, Amount: decimal.NewFromInt(50), Reference: "PRF-1", CompletedAt: &now},
		{Type: models.TransactionTypeDeposit, Status: models.TransactionStatusPending, Amount: decimal.NewFromInt(999), Reference: "DEP-9"},
	} {
		txn.WalletID = wallet.ID
		txn.UserID = wallet.UserID
		txn.Currency = models.DefaultCurrency
		require.NoError(t, repo.Save(ctx, txn))
	}

	sum, err := repo.SumCompletedSigned(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(750).Equal(sum), "got %s", sum)
}

func TestWithTransactionRollsBack(t *testing.T) {
	testDB := setupRepoDB(t)
	ctx := context.Background()
	repo := repository.NewTeamStatsRepository(testDB.DB)
	boom := errors.New("boom")

	err := repository.WithTransaction(ctx, testDB.DB, func(txCtx context.Context) error {
		assert.True(t, repository.InTransaction(txCtx))
		if err := repo.Save(txCtx, &models.TeamStats{UserID: 3, TeamValue: decimal.NewFromInt(10)}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, repository.InTransaction(ctx))

	stats, err := repo.ByUserID(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, stats)

	t.Run("RecoversPanic", func(t *testing.T) {
		err := repository.WithTransaction(ctx, testDB.DB, func(txCtx context.Context) error {
			if err := repo.Save(txCtx, &models.TeamStats{UserID: 4}); err != nil {
				return err
			}
			panic("bad state")
		})
		require.Error(t, err)

		stats, err := repo.ByUserID(ctx, 4)
		require.NoError(t, err)
		assert.Nil(t, stats)
	})
}
