package businessflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// staleWalletRepo reports a version mismatch for the first failures balance writes
type staleWalletRepo struct {
	repository.WalletRepository

	mu       sync.Mutex
	failures int
	calls    int
}

func (r *staleWalletRepo) UpdateBalancesOptimistic(ctx context.Context, walletID uint, balances repository.WalletBalances, expectedVersion int64) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return repository.ErrVersionMismatch
	}
	return r.WalletRepository.UpdateBalancesOptimistic(ctx, walletID, balances, expectedVersion)
}

// collidingTransactionRepo rejects the first failures inserts as unique violations
type collidingTransactionRepo struct {
	repository.TransactionRepository

	mu         sync.Mutex
	failures   int
	references []string
}

func (r *collidingTransactionRepo) Save(ctx context.Context, txn *models.Transaction) error {
	r.mu.Lock()
	r.references = append(r.references, txn.Reference)
	fail := len(r.references) <= r.failures
	r.mu.Unlock()
	if fail {
		return gorm.ErrDuplicatedKey
	}
	return r.TransactionRepository.Save(ctx, txn)
}

func TestApplyTransactionRetries(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	wallet, err := env.fixtures.CreateFundedWallet(1, "1000")
	require.NoError(t, err)

	ledgerWith := func(walletRepo repository.WalletRepository, transactionRepo repository.TransactionRepository) businessflow.WalletLedger {
		return businessflow.NewWalletLedger(walletRepo, transactionRepo, env.auditRepo,
			env.db.DB, env.recorder, nil, func() time.Time { return env.now }, models.DefaultCurrency)
	}

	t.Run("ConcurrentModificationRetriedOnce", func(t *testing.T) {
		walletRepo := &staleWalletRepo{WalletRepository: env.walletRepo, failures: 1}
		ledger := ledgerWith(walletRepo, env.transactionRepo)

		txn, err := ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID:  wallet.ID,
			Type:      models.TransactionTypeDeposit,
			Amount:    dec("100"),
			Reference: "DEP-STALE-1",
		})
		require.NoError(t, err)
		assert.Equal(t, 2, walletRepo.calls)
		assert.Equal(t, "DEP-STALE-1", txn.Reference)
		assertAmount(t, "1100", env.wallet(t, wallet.ID).Balance)

		reference := "DEP-STALE-1"
		n, err := env.transactionRepo.Count(ctx, models.TransactionFilter{Reference: &reference})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "the failed attempt rolled back")
	})

	t.Run("ConcurrentModificationGivesUpAfterRetry", func(t *testing.T) {
		walletRepo := &staleWalletRepo{WalletRepository: env.walletRepo, failures: 5}
		ledger := ledgerWith(walletRepo, env.transactionRepo)

		_, err := ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID: wallet.ID,
			Type:     models.TransactionTypeDeposit,
			Amount:   dec("100"),
		})
		assert.True(t, businessflow.IsConcurrentModification(err))
		assert.Equal(t, 2, walletRepo.calls)
		assertAmount(t, "1100", env.wallet(t, wallet.ID).Balance)
	})

	t.Run("GeneratedReferenceCollisionRetried", func(t *testing.T) {
		transactionRepo := &collidingTransactionRepo{TransactionRepository: env.transactionRepo, failures: 1}
		ledger := ledgerWith(env.walletRepo, transactionRepo)

		txn, err := ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID: wallet.ID,
			Type:     models.TransactionTypeWithdrawal,
			Amount:   dec("50"),
		})
		require.NoError(t, err)
		require.Len(t, transactionRepo.references, 2)
		assert.NotEqual(t, transactionRepo.references[0], transactionRepo.references[1], "a fresh reference per attempt")
		assert.Equal(t, transactionRepo.references[1], txn.Reference)
		assertAmount(t, "1050", env.wallet(t, wallet.ID).Balance)
	})

	t.Run("CallerReferenceCollisionSurfaced", func(t *testing.T) {
		transactionRepo := &collidingTransactionRepo{TransactionRepository: env.transactionRepo, failures: 1}
		ledger := ledgerWith(env.walletRepo, transactionRepo)

		_, err := ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID:  wallet.ID,
			Type:      models.TransactionTypeWithdrawal,
			Amount:    dec("50"),
			Reference: "WDR-CALLER-1",
		})
		assert.True(t, businessflow.IsDuplicateReference(err))
		assert.Equal(t, []string{"WDR-CALLER-1"}, transactionRepo.references, "no second attempt")
		assertAmount(t, "1050", env.wallet(t, wallet.ID).Balance)
	})

	require.NoError(t, env.ledger.VerifyWalletIntegrity(ctx, wallet.ID))
}
