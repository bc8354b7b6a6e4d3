package businessflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/amirphl/plotshare/app/events"
	businessflow "github.com/amirphl/plotshare/business_flow"
	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWallet(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	first, err := env.ledger.CreateWallet(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.WalletStatusActive, first.Status)
	assertAmount(t, "0", first.Balance)

	second, err := env.ledger.CreateWallet(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), env.auditCount(t, models.AuditActionWalletCreated))
}

func TestApplyTransaction(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	t.Run("DebitWithinBalance", func(t *testing.T) {
		wallet, err := env.fixtures.CreateFundedWallet(1, "1000")
		require.NoError(t, err)
		env.recorder.Reset()

		txn, err := env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID: wallet.ID,
			Type:     models.TransactionTypeWithdrawal,
			Amount:   dec("500"),
		})
		require.NoError(t, err)
		assert.Equal(t, models.TransactionTypeWithdrawal, txn.Type)
		assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
		assertAmount(t, "1000", txn.BalanceBefore)
		assertAmount(t, "500", txn.BalanceAfter)
		assert.Contains(t, txn.Reference, utils.TransactionReferencePrefix+"-")

		stored := env.wallet(t, wallet.ID)
		assertAmount(t, "500", stored.Balance)
		assertAmount(t, "500", stored.TotalWithdrawals)
		require.NoError(t, env.ledger.VerifyWalletIntegrity(ctx, wallet.ID))

		completed := env.recorder.OfType(events.TypeTransactionCompleted)
		require.Len(t, completed, 1)
		assert.Equal(t, fmt.Sprintf("wallet:%d", wallet.ID), completed[0].Key)
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		wallet, err := env.fixtures.CreateFundedWallet(2, "1000")
		require.NoError(t, err)

		_, err = env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID: wallet.ID,
			Type:     models.TransactionTypeWithdrawal,
			Amount:   dec("1500"),
		})
		require.Error(t, err)
		assert.True(t, businessflow.IsInsufficientBalance(err))
		assert.Equal(t, businessflow.CategoryStateConflict, businessflow.ErrorCategory(err))

		assertAmount(t, "1000", env.wallet(t, wallet.ID).Balance)
		txns, err := env.ledger.ListTransactions(ctx, models.TransactionFilter{WalletID: &wallet.ID}, 0, 0)
		require.NoError(t, err)
		assert.Len(t, txns, 1, "only the seed deposit exists")
	})

	t.Run("InvalidRequests", func(t *testing.T) {
		wallet, err := env.fixtures.CreateFundedWallet(3, "1000")
		require.NoError(t, err)

		cases := []struct {
			name string
			req  businessflow.ApplyTransactionRequest
			is   error
		}{
			{"ZeroAmount", businessflow.ApplyTransactionRequest{WalletID: wallet.ID, Type: models.TransactionTypeDeposit, Amount: dec("0")}, businessflow.ErrInvalidAmount},
			{"NegativeAmount", businessflow.ApplyTransactionRequest{WalletID: wallet.ID, Type: models.TransactionTypeDeposit, Amount: dec("-5")}, businessflow.ErrInvalidAmount},
			{"SubCentAmount", businessflow.ApplyTransactionRequest{WalletID: wallet.ID, Type: models.TransactionTypeDeposit, Amount: dec("10.001")}, businessflow.ErrInvalidAmount},
			{"UnknownType", businessflow.ApplyTransactionRequest{WalletID: wallet.ID, Type: "gift", Amount: dec("10")}, businessflow.ErrInvalidTransactionType},
			{"OtherCurrency", businessflow.ApplyTransactionRequest{WalletID: wallet.ID, Type: models.TransactionTypeDeposit, Amount: dec("10"), Currency: "USD"}, businessflow.ErrCurrencyMismatch},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := env.ledger.ApplyTransaction(ctx, tc.req)
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.is)
				assert.Equal(t, businessflow.CategoryValidation, businessflow.ErrorCategory(err))
			})
		}
		assertAmount(t, "1000", env.wallet(t, wallet.ID).Balance)
	})

	t.Run("DuplicateReference", func(t *testing.T) {
		wallet, err := env.fixtures.CreateFundedWallet(4, "1000")
		require.NoError(t, err)

		req := businessflow.ApplyTransactionRequest{
			WalletID:  wallet.ID,
			Type:      models.TransactionTypeDeposit,
			Amount:    dec("100"),
			Reference: "GW-DUP-1",
		}
		_, err = env.ledger.ApplyTransaction(ctx, req)
		require.NoError(t, err)

		_, err = env.ledger.ApplyTransaction(ctx, req)
		require.Error(t, err)
		assert.True(t, businessflow.IsDuplicateReference(err))
		assertAmount(t, "1100", env.wallet(t, wallet.ID).Balance)
	})

	t.Run("FrozenWallet", func(t *testing.T) {
		wallet, err := env.fixtures.CreateFundedWallet(5, "1000")
		require.NoError(t, err)
		require.NoError(t, env.walletRepo.UpdateStatus(ctx, wallet.ID, models.WalletStatusFrozen))

		_, err = env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID: wallet.ID,
			Type:     models.TransactionTypeDeposit,
			Amount:   dec("100"),
		})
		require.Error(t, err)
		assert.True(t, businessflow.IsWalletFrozen(err))
	})

	t.Run("UnknownWallet", func(t *testing.T) {
		_, err := env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID: 9999,
			Type:     models.TransactionTypeDeposit,
			Amount:   dec("100"),
		})
		require.Error(t, err)
		assert.True(t, businessflow.IsNotFound(err))
	})
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	wallet, err := env.fixtures.CreateFundedWallet(1, "1000")
	require.NoError(t, err)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
				WalletID: wallet.ID,
				Type:     models.TransactionTypeWithdrawal,
				Amount:   dec("200"),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	for _, err := range failures {
		assert.True(t, businessflow.IsInsufficientBalance(err) || businessflow.IsConcurrentModification(err), err.Error())
	}

	stored := env.wallet(t, wallet.ID)
	assertAmount(t, "0", stored.Balance)
	require.NoError(t, env.ledger.VerifyWalletIntegrity(ctx, wallet.ID))
}

func TestPendingTransactions(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	t.Run("CompleteReservedDebit", func(t *testing.T) {
		wallet, err := env.fixtures.CreateFundedWallet(1, "1000")
		require.NoError(t, err)

		pending, err := env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID: wallet.ID,
			Type:     models.TransactionTypeWithdrawal,
			Amount:   dec("300"),
			Pending:  true,
		})
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusPending, pending.Status)

		stored := env.wallet(t, wallet.ID)
		assertAmount(t, "1000", stored.Balance)
		assertAmount(t, "300", stored.PendingAmount)
		assertAmount(t, "700", stored.AvailableBalance())

		// The reservation counts against later debits
		_, err = env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID: wallet.ID,
			Type:     models.TransactionTypeWithdrawal,
			Amount:   dec("800"),
		})
		assert.True(t, businessflow.IsInsufficientBalance(err))

		completed, err := env.ledger.CompletePendingTransaction(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusCompleted, completed.Status)
		assertAmount(t, "1000", completed.BalanceBefore)
		assertAmount(t, "700", completed.BalanceAfter)

		stored = env.wallet(t, wallet.ID)
		assertAmount(t, "700", stored.Balance)
		assertAmount(t, "0", stored.PendingAmount)
		require.NoError(t, env.ledger.VerifyWalletIntegrity(ctx, wallet.ID))

		_, err = env.ledger.CompletePendingTransaction(ctx, pending.ID)
		assert.ErrorIs(t, err, businessflow.ErrTransactionNotPending)
	})

	t.Run("FailReleasesReservation", func(t *testing.T) {
		wallet, err := env.fixtures.CreateFundedWallet(2, "1000")
		require.NoError(t, err)

		pending, err := env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID: wallet.ID,
			Type:     models.TransactionTypeWithdrawal,
			Amount:   dec("300"),
			Pending:  true,
		})
		require.NoError(t, err)

		failed, err := env.ledger.FailPendingTransaction(ctx, pending.ID, "gateway timeout")
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusFailed, failed.Status)

		stored := env.wallet(t, wallet.ID)
		assertAmount(t, "1000", stored.Balance)
		assertAmount(t, "0", stored.PendingAmount)
		require.NoError(t, env.ledger.VerifyWalletIntegrity(ctx, wallet.ID))
	})
}

func TestSettleGatewayConfirmation(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	wallet, err := env.fixtures.CreateFundedWallet(1, "1000")
	require.NoError(t, err)

	t.Run("SuccessCreditsOnce", func(t *testing.T) {
		confirmation := businessflow.GatewayConfirmation{
			Amount:            dec("250"),
			Currency:          "IRR",
			ProviderReference: "PSP-1001",
			Status:            businessflow.GatewayStatusSuccess,
			Kind:              models.TransactionTypeDeposit,
		}
		txn, err := env.ledger.SettleGatewayConfirmation(ctx, wallet.ID, confirmation)
		require.NoError(t, err)
		assert.Equal(t, "PSP-1001", txn.Reference)
		assertAmount(t, "1250", env.wallet(t, wallet.ID).Balance)

		_, err = env.ledger.SettleGatewayConfirmation(ctx, wallet.ID, confirmation)
		require.Error(t, err)
		var be *businessflow.BusinessError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, "GATEWAY_ALREADY_SETTLED", be.Code)
		assertAmount(t, "1250", env.wallet(t, wallet.ID).Balance)
	})

	t.Run("FailureLeavesBalance", func(t *testing.T) {
		txn, err := env.ledger.SettleGatewayConfirmation(ctx, wallet.ID, businessflow.GatewayConfirmation{
			Amount:            dec("400"),
			ProviderReference: "PSP-1002",
			Status:            businessflow.GatewayStatusFailure,
			Kind:              models.TransactionTypeDeposit,
		})
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusFailed, txn.Status)
		assertAmount(t, "1250", env.wallet(t, wallet.ID).Balance)
		require.NoError(t, env.ledger.VerifyWalletIntegrity(ctx, wallet.ID))
	})

	t.Run("RejectsOtherKinds", func(t *testing.T) {
		_, err := env.ledger.SettleGatewayConfirmation(ctx, wallet.ID, businessflow.GatewayConfirmation{
			Amount:            dec("10"),
			ProviderReference: "PSP-1003",
			Status:            businessflow.GatewayStatusSuccess,
			Kind:              models.TransactionTypeProfit,
		})
		assert.ErrorIs(t, err, businessflow.ErrInvalidTransactionType)
	})
}

func TestFreezeAndUnfreeze(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	wallet, err := env.fixtures.CreateFundedWallet(1, "1000")
	require.NoError(t, err)

	frozen, err := env.ledger.Freeze(ctx, wallet.ID, dec("400"))
	require.NoError(t, err)
	assertAmount(t, "400", frozen.FrozenAmount)
	assertAmount(t, "600", env.wallet(t, wallet.ID).AvailableBalance())

	_, err = env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
		WalletID: wallet.ID,
		Type:     models.TransactionTypeWithdrawal,
		Amount:   dec("700"),
	})
	assert.True(t, businessflow.IsInsufficientBalance(err))

	_, err = env.ledger.Freeze(ctx, wallet.ID, dec("700"))
	assert.True(t, businessflow.IsExceedsAvailableBalance(err))

	_, err = env.ledger.Unfreeze(ctx, wallet.ID, dec("500"))
	assert.ErrorIs(t, err, businessflow.ErrExceedsFrozenAmount)

	unfrozen, err := env.ledger.Unfreeze(ctx, wallet.ID, dec("400"))
	require.NoError(t, err)
	assertAmount(t, "0", unfrozen.FrozenAmount)
	assertAmount(t, "1000", env.wallet(t, wallet.ID).AvailableBalance())
}

func TestReverseTransaction(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	wallet, err := env.fixtures.CreateFundedWallet(1, "1000")
	require.NoError(t, err)

	withdrawal, err := env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
		WalletID: wallet.ID,
		Type:     models.TransactionTypeWithdrawal,
		Amount:   dec("200"),
	})
	require.NoError(t, err)
	env.recorder.Reset()

	reversal, err := env.ledger.ReverseTransaction(ctx, withdrawal.ID, "customer dispute")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeDeposit, reversal.Type)
	assert.Equal(t, utils.ReversalReference(withdrawal.ID), reversal.Reference)
	require.NotNil(t, reversal.ReversalOfID)
	assert.Equal(t, withdrawal.ID, *reversal.ReversalOfID)
	assertAmount(t, "1000", env.wallet(t, wallet.ID).Balance)
	require.NoError(t, env.ledger.VerifyWalletIntegrity(ctx, wallet.ID))
	assert.Len(t, env.recorder.OfType(events.TypeTransactionReversed), 1)

	original, err := env.transactionRepo.ByID(ctx, withdrawal.ID)
	require.NoError(t, err)
	assert.NotNil(t, original.ReversedAt)

	t.Run("OnlyOnce", func(t *testing.T) {
		_, err := env.ledger.ReverseTransaction(ctx, withdrawal.ID, "again")
		assert.True(t, businessflow.IsNotReversible(err))
	})

	t.Run("ExistingReversalBlocksAnother", func(t *testing.T) {
		found, err := env.transactionRepo.ByReversalOf(ctx, withdrawal.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, reversal.ID, found.ID)

		// Lose the reversed_at stamp; the reversal row alone still refuses a second one
		require.NoError(t, env.db.DB.Model(&models.Transaction{}).Where("id = ?", withdrawal.ID).
			Update("reversed_at", nil).Error)
		_, err = env.ledger.ReverseTransaction(ctx, withdrawal.ID, "again")
		assert.True(t, businessflow.IsNotReversible(err))
		assertAmount(t, "1000", env.wallet(t, wallet.ID).Balance)
	})

	t.Run("ReversalIsFinal", func(t *testing.T) {
		_, err := env.ledger.ReverseTransaction(ctx, reversal.ID, "undo the undo")
		assert.True(t, businessflow.IsNotReversible(err))
	})

	t.Run("ReversalNeedsFunds", func(t *testing.T) {
		deposit, err := env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID: wallet.ID,
			Type:     models.TransactionTypeDeposit,
			Amount:   dec("500"),
		})
		require.NoError(t, err)
		_, err = env.ledger.ApplyTransaction(ctx, businessflow.ApplyTransactionRequest{
			WalletID: wallet.ID,
			Type:     models.TransactionTypeWithdrawal,
			Amount:   dec("1400"),
		})
		require.NoError(t, err)

		_, err = env.ledger.ReverseTransaction(ctx, deposit.ID, "chargeback")
		assert.True(t, businessflow.IsInsufficientBalance(err))
		assertAmount(t, "100", env.wallet(t, wallet.ID).Balance)
	})
}

func TestVerifyWalletIntegrityReportsMismatch(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	wallet, err := env.fixtures.CreateFundedWallet(1, "1000")
	require.NoError(t, err)
	require.NoError(t, env.ledger.VerifyWalletIntegrity(ctx, wallet.ID))

	require.NoError(t, env.db.DB.Model(&models.Wallet{}).Where("id = ?", wallet.ID).Update("balance", dec("5000")).Error)

	err = env.ledger.VerifyWalletIntegrity(ctx, wallet.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, businessflow.ErrBalanceMismatch)
	assert.Equal(t, businessflow.CategoryInvariant, businessflow.ErrorCategory(err))
	assert.Equal(t, int64(1), env.auditCount(t, models.AuditActionInvariantViolation))
}
