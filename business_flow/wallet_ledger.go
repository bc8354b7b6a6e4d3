package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/plotshare/app/events"
	"github.com/amirphl/plotshare/app/metrics"
	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/repository"
	"github.com/amirphl/plotshare/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WalletLedger owns every balance change of a wallet
type WalletLedger interface {
	CreateWallet(ctx context.Context, userID uint) (*models.Wallet, error)
	ApplyTransaction(ctx context.Context, req ApplyTransactionRequest) (*models.Transaction, error)
	CompletePendingTransaction(ctx context.Context, transactionID uint) (*models.Transaction, error)
	FailPendingTransaction(ctx context.Context, transactionID uint, reason string) (*models.Transaction, error)
	SettleGatewayConfirmation(ctx context.Context, walletID uint, confirmation GatewayConfirmation) (*models.Transaction, error)
	Freeze(ctx context.Context, walletID uint, amount decimal.Decimal) (*models.Wallet, error)
	Unfreeze(ctx context.Context, walletID uint, amount decimal.Decimal) (*models.Wallet, error)
	ReverseTransaction(ctx context.Context, transactionID uint, reason string) (*models.Transaction, error)
	GetWallet(ctx context.Context, walletID uint) (*models.Wallet, error)
	GetWalletByUser(ctx context.Context, userID uint) (*models.Wallet, error)
	ListTransactions(ctx context.Context, filter models.TransactionFilter, limit, offset int) ([]*models.Transaction, error)
	VerifyWalletIntegrity(ctx context.Context, walletID uint) error
}

// ApplyTransactionRequest describes one balance change. An empty Reference gets a generated one.
type ApplyTransactionRequest struct {
	WalletID          uint
	Type              models.TransactionType
	Amount            decimal.Decimal
	PaymentMethod     string
	Reference         string
	ProviderReference string
	Description       string
	Currency          string
	Pending           bool // Two-phase flow, completed later by CompletePendingTransaction
	InvestmentID      *uint
	ProfitID          *uint

	reversalOf *uint
}

// GatewayStatus is the outcome a payment gateway reported
type GatewayStatus string

const (
	GatewayStatusSuccess GatewayStatus = "success"
	GatewayStatusFailure GatewayStatus = "failure"
)

// GatewayConfirmation is a confirmed payment handed to the ledger by the gateway collaborator
type GatewayConfirmation struct {
	Amount            decimal.Decimal
	Currency          string
	ProviderReference string
	Status            GatewayStatus
	Kind              models.TransactionType // deposit or withdrawal
	PaymentMethod     string
}

// TransactionEventPayload is published for every ledger transaction state change
type TransactionEventPayload struct {
	TransactionID uint                     `json:"transaction_id"`
	WalletID      uint                     `json:"wallet_id"`
	UserID        uint                     `json:"user_id"`
	Type          models.TransactionType   `json:"type"`
	Status        models.TransactionStatus `json:"status"`
	Amount        decimal.Decimal          `json:"amount"`
	BalanceBefore decimal.Decimal          `json:"balance_before"`
	BalanceAfter  decimal.Decimal          `json:"balance_after"`
	Reference     string                   `json:"reference"`
	ReversalOfID  *uint                    `json:"reversal_of_id,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
}

// WalletLedgerImpl implements WalletLedger on top of row locks and a version check
type WalletLedgerImpl struct {
	walletRepo      repository.WalletRepository
	transactionRepo repository.TransactionRepository
	auditRepo       repository.AuditLogRepository
	db              *gorm.DB
	publisher       events.Publisher
	logger          *zap.Logger
	clock           Clock
	currency        string
	tx              txRunner
}

// NewWalletLedger creates a new wallet ledger instance
func NewWalletLedger(
	walletRepo repository.WalletRepository,
	transactionRepo repository.TransactionRepository,
	auditRepo repository.AuditLogRepository,
	db *gorm.DB,
	publisher events.Publisher,
	logger *zap.Logger,
	clock Clock,
	currency string,
) WalletLedger {
	logger = defaultLogger(logger)
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return &WalletLedgerImpl{
		walletRepo:      walletRepo,
		transactionRepo: transactionRepo,
		auditRepo:       auditRepo,
		db:              db,
		publisher:       defaultPublisher(publisher),
		logger:          logger,
		clock:           defaultClock(clock),
		currency:        currency,
		tx:              txRunner{db: db, auditRepo: auditRepo, logger: logger},
	}
}

// CreateWallet opens the wallet of a user. It is idempotent per user.
func (l *WalletLedgerImpl) CreateWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	if userID == 0 {
		return nil, NewBusinessError("CREATE_WALLET_FAILED", "User is required", ErrWalletNotFound)
	}

	var wallet *models.Wallet
	err := l.tx.run(ctx, "create_wallet", isLostWalletRace, func(txCtx context.Context) error {
		existing, err := l.walletRepo.ByUserID(txCtx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			wallet = existing
			return nil
		}

		wallet = &models.Wallet{UserID: userID, Status: models.WalletStatusActive}
		if err := l.walletRepo.Save(txCtx, wallet); err != nil {
			if repository.IsUniqueViolation(err) {
				return ErrWalletAlreadyExists
			}
			return err
		}

		createAuditLog(txCtx, l.auditRepo, l.logger, &userID, models.AuditActionWalletCreated,
			fmt.Sprintf("Wallet %d created", wallet.ID), true, nil, map[string]any{"wallet_id": wallet.ID})
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("CREATE_WALLET_FAILED", "Failed to create wallet", err)
	}
	return wallet, nil
}

// isLostWalletRace lets the loser of a CreateWallet race re-read the winner's wallet
func isLostWalletRace(err error) bool {
	return errors.Is(err, ErrWalletAlreadyExists)
}

// ApplyTransaction applies one balance change atomically
func (l *WalletLedgerImpl) ApplyTransaction(ctx context.Context, req ApplyTransactionRequest) (*models.Transaction, error) {
	started := time.Now()

	if err := l.validateRequest(&req); err != nil {
		metrics.ObserveTransaction(string(req.Type), string(CategoryValidation), started)
		return nil, NewBusinessError("APPLY_TRANSACTION_FAILED", "Invalid transaction", err)
	}

	generated := req.Reference == ""
	var txn *models.Transaction
	err := l.tx.run(ctx, "apply_transaction", l.retryPolicy(generated), func(txCtx context.Context) error {
		attempt := req
		if generated {
			attempt.Reference = utils.NewTransactionReference()
		}
		var err error
		txn, err = l.apply(txCtx, attempt)
		return err
	})
	if err != nil {
		l.observeFailure(req.Type, req.WalletID, err, started)
		return nil, NewBusinessError("APPLY_TRANSACTION_FAILED", "Failed to apply transaction", err)
	}

	metrics.ObserveTransaction(string(txn.Type), string(txn.Status), started)
	emit(ctx, l.publisher, l.logger, l.transactionEvent(txn, ""))
	return txn, nil
}

// retryPolicy retries concurrency errors once. A duplicate reference is only retried when
// the ledger generated it; a caller supplied duplicate is the answer.
func (l *WalletLedgerImpl) retryPolicy(generatedReference bool) func(error) bool {
	return func(err error) bool {
		if errors.Is(err, ErrConcurrentModification) {
			return true
		}
		return generatedReference && errors.Is(err, ErrDuplicateReference)
	}
}

func (l *WalletLedgerImpl) validateRequest(req *ApplyTransactionRequest) error {
	if !req.Type.IsValid() {
		return ErrInvalidTransactionType
	}
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !req.Amount.Equal(req.Amount.Round(utils.CurrencyPlaces)) {
		return ErrInvalidAmount
	}
	if req.Currency == "" {
		req.Currency = l.currency
	}
	if !strings.EqualFold(req.Currency, l.currency) {
		return ErrCurrencyMismatch
	}
	req.Currency = l.currency
	return nil
}

// apply does the work of ApplyTransaction inside txCtx
func (l *WalletLedgerImpl) apply(txCtx context.Context, req ApplyTransactionRequest) (*models.Transaction, error) {
	wallet, err := l.lockWallet(txCtx, req.WalletID)
	if err != nil {
		return nil, err
	}

	if req.Type.IsDebit() && req.Amount.GreaterThan(wallet.AvailableBalance()) {
		return nil, ErrInsufficientBalance
	}

	now := l.clock()
	balances := balancesOf(wallet)
	txn := &models.Transaction{
		Type:          req.Type,
		Status:        models.TransactionStatusCompleted,
		Amount:        req.Amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  wallet.Balance.Add(req.Type.Signed(req.Amount)),
		Currency:      req.Currency,
		WalletID:      wallet.ID,
		UserID:        wallet.UserID,
		Reference:     req.Reference,
		PaymentMethod: req.PaymentMethod,
		InvestmentID:  req.InvestmentID,
		ProfitID:      req.ProfitID,
		ReversalOfID:  req.reversalOf,
		Description:   req.Description,
	}
	if req.ProviderReference != "" {
		txn.ProviderReference = &req.ProviderReference
	}

	if req.Pending {
		// The projected balance_after is re-stamped on completion
		txn.Status = models.TransactionStatusPending
		if req.Type.IsDebit() {
			balances.PendingAmount = balances.PendingAmount.Add(req.Amount)
		}
	} else {
		txn.CompletedAt = &now
		applyCompleted(&balances, req.Type, req.Amount)
	}

	if err := l.saveTransaction(txCtx, txn); err != nil {
		return nil, err
	}
	if err := l.writeBalances(txCtx, wallet, balances); err != nil {
		return nil, err
	}

	createAuditLog(txCtx, l.auditRepo, l.logger, &wallet.UserID, models.AuditActionTransactionApplied,
		fmt.Sprintf("%s of %s applied to wallet %d", txn.Type, txn.Amount.StringFixed(utils.CurrencyPlaces), wallet.ID),
		true, nil, map[string]any{"transaction_id": txn.ID, "reference": txn.Reference, "status": txn.Status})

	return txn, nil
}

// CompletePendingTransaction applies a pending transaction to the balance
func (l *WalletLedgerImpl) CompletePendingTransaction(ctx context.Context, transactionID uint) (*models.Transaction, error) {
	started := time.Now()

	var txn *models.Transaction
	err := l.tx.run(ctx, "complete_pending", l.retryPolicy(false), func(txCtx context.Context) error {
		pending, wallet, err := l.lockPending(txCtx, transactionID)
		if err != nil {
			return err
		}

		balances := balancesOf(wallet)
		if pending.Type.IsDebit() {
			balances.PendingAmount = balances.PendingAmount.Sub(pending.Amount)
		}
		applyCompleted(&balances, pending.Type, pending.Amount)

		now := l.clock()
		before := wallet.Balance
		after := balances.Balance
		ok, err := l.transactionRepo.Finalize(txCtx, pending.ID, models.TransactionStatusCompleted, before, after, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTransactionNotPending
		}
		if err := l.writeBalances(txCtx, wallet, balances); err != nil {
			return err
		}

		pending.Status = models.TransactionStatusCompleted
		pending.BalanceBefore = before
		pending.BalanceAfter = after
		pending.CompletedAt = &now
		txn = pending

		createAuditLog(txCtx, l.auditRepo, l.logger, &wallet.UserID, models.AuditActionTransactionApplied,
			fmt.Sprintf("Pending transaction %d completed", txn.ID), true, nil, map[string]any{"transaction_id": txn.ID})
		return nil
	})
	if err != nil {
		l.observeFailure(models.TransactionType("pending"), 0, err, started)
		return nil, NewBusinessError("COMPLETE_TRANSACTION_FAILED", "Failed to complete pending transaction", err)
	}

	metrics.ObserveTransaction(string(txn.Type), string(txn.Status), started)
	emit(ctx, l.publisher, l.logger, l.transactionEvent(txn, ""))
	return txn, nil
}

// FailPendingTransaction marks a pending transaction failed and releases its reservation
func (l *WalletLedgerImpl) FailPendingTransaction(ctx context.Context, transactionID uint, reason string) (*models.Transaction, error) {
	started := time.Now()

	var txn *models.Transaction
	err := l.tx.run(ctx, "fail_pending", l.retryPolicy(false), func(txCtx context.Context) error {
		pending, wallet, err := l.lockPending(txCtx, transactionID)
		if err != nil {
			return err
		}

		ok, err := l.transactionRepo.Finalize(txCtx, pending.ID, models.TransactionStatusFailed, pending.BalanceBefore, pending.BalanceAfter, l.clock())
		if err != nil {
			return err
		}
		if !ok {
			return ErrTransactionNotPending
		}

		if pending.Type.IsDebit() {
			balances := balancesOf(wallet)
			balances.PendingAmount = balances.PendingAmount.Sub(pending.Amount)
			if err := l.writeBalances(txCtx, wallet, balances); err != nil {
				return err
			}
		}

		pending.Status = models.TransactionStatusFailed
		txn = pending

		createAuditLog(txCtx, l.auditRepo, l.logger, &wallet.UserID, models.AuditActionTransactionApplied,
			fmt.Sprintf("Pending transaction %d failed", txn.ID), false, &reason, map[string]any{"transaction_id": txn.ID})
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("FAIL_TRANSACTION_FAILED", "Failed to fail pending transaction", err)
	}

	metrics.ObserveTransaction(string(txn.Type), string(txn.Status), started)
	emit(ctx, l.publisher, l.logger, l.transactionEvent(txn, reason))
	return txn, nil
}

// lockPending locks a pending transaction and its wallet
func (l *WalletLedgerImpl) lockPending(txCtx context.Context, transactionID uint) (*models.Transaction, *models.Wallet, error) {
	pending, err := l.transactionRepo.ByIDForUpdate(txCtx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	if pending == nil {
		return nil, nil, ErrTransactionNotFound
	}
	if !pending.IsPending() {
		return nil, nil, ErrTransactionNotPending
	}

	wallet, err := l.lockWallet(txCtx, pending.WalletID)
	if err != nil {
		return nil, nil, err
	}
	return pending, wallet, nil
}

// SettleGatewayConfirmation turns a gateway confirmation into a ledger record. The provider
// reference is the transaction reference, so a replayed confirmation is a DuplicateReference.
func (l *WalletLedgerImpl) SettleGatewayConfirmation(ctx context.Context, walletID uint, confirmation GatewayConfirmation) (*models.Transaction, error) {
	if confirmation.Kind != models.TransactionTypeDeposit && confirmation.Kind != models.TransactionTypeWithdrawal {
		return nil, NewBusinessError("GATEWAY_SETTLEMENT_FAILED", "Gateway confirmations settle deposits and withdrawals only", ErrInvalidTransactionType)
	}
	if confirmation.ProviderReference == "" {
		return nil, NewBusinessError("GATEWAY_SETTLEMENT_FAILED", "Provider reference is required", ErrInvalidGatewayStatus)
	}

	paymentMethod := confirmation.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = "gateway"
	}
	req := ApplyTransactionRequest{
		WalletID:          walletID,
		Type:              confirmation.Kind,
		Amount:            confirmation.Amount,
		PaymentMethod:     paymentMethod,
		Reference:         confirmation.ProviderReference,
		ProviderReference: confirmation.ProviderReference,
		Currency:          confirmation.Currency,
		Description:       fmt.Sprintf("Gateway %s confirmation", confirmation.Kind),
	}

	switch confirmation.Status {
	case GatewayStatusSuccess:
		txn, err := l.ApplyTransaction(ctx, req)
		if err != nil {
			if IsDuplicateReference(err) {
				return nil, NewBusinessErrorf("GATEWAY_ALREADY_SETTLED", "Confirmation %s already settled", err, confirmation.ProviderReference)
			}
			return nil, err
		}
		createAuditLog(ctx, l.auditRepo, l.logger, &txn.UserID, models.AuditActionGatewaySettled,
			fmt.Sprintf("Gateway %s %s settled", confirmation.Kind, confirmation.ProviderReference), true, nil,
			map[string]any{"transaction_id": txn.ID})
		return txn, nil
	case GatewayStatusFailure:
		return l.recordFailedConfirmation(ctx, req)
	}
	return nil, NewBusinessError("GATEWAY_SETTLEMENT_FAILED", "Unknown gateway status", ErrInvalidGatewayStatus)
}

// recordFailedConfirmation keeps a failed transaction for the audit trail without touching the balance
func (l *WalletLedgerImpl) recordFailedConfirmation(ctx context.Context, req ApplyTransactionRequest) (*models.Transaction, error) {
	started := time.Now()
	if err := l.validateRequest(&req); err != nil {
		return nil, NewBusinessError("GATEWAY_SETTLEMENT_FAILED", "Invalid gateway confirmation", err)
	}

	var txn *models.Transaction
	err := l.tx.run(ctx, "gateway_failure", nil, func(txCtx context.Context) error {
		wallet, err := l.walletRepo.ByID(txCtx, req.WalletID)
		if err != nil {
			return err
		}
		if wallet == nil {
			return ErrWalletNotFound
		}

		txn = &models.Transaction{
			Type:              req.Type,
			Status:            models.TransactionStatusFailed,
			Amount:            req.Amount,
			BalanceBefore:     wallet.Balance,
			BalanceAfter:      wallet.Balance.Add(req.Type.Signed(req.Amount)),
			Currency:          req.Currency,
			WalletID:          wallet.ID,
			UserID:            wallet.UserID,
			Reference:         req.Reference,
			PaymentMethod:     req.PaymentMethod,
			ProviderReference: &req.ProviderReference,
			Description:       req.Description,
		}
		return l.saveTransaction(txCtx, txn)
	})
	if err != nil {
		if IsDuplicateReference(err) {
			return nil, NewBusinessErrorf("GATEWAY_ALREADY_SETTLED", "Confirmation %s already settled", err, req.ProviderReference)
		}
		return nil, NewBusinessError("GATEWAY_SETTLEMENT_FAILED", "Failed to record gateway failure", err)
	}

	metrics.ObserveTransaction(string(txn.Type), string(txn.Status), started)
	emit(ctx, l.publisher, l.logger, l.transactionEvent(txn, "gateway reported failure"))
	return txn, nil
}

// Freeze moves part of the available balance into frozen_amount
func (l *WalletLedgerImpl) Freeze(ctx context.Context, walletID uint, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, NewBusinessError("FREEZE_FAILED", "Invalid freeze amount", ErrInvalidAmount)
	}

	wallet, err := l.adjustFrozen(ctx, "freeze", walletID, func(w *models.Wallet, b *repository.WalletBalances) error {
		frozen := b.FrozenAmount.Add(amount)
		if frozen.GreaterThan(w.Balance.Sub(w.PendingAmount)) {
			return ErrExceedsAvailableBalance
		}
		b.FrozenAmount = frozen
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("FREEZE_FAILED", "Failed to freeze funds", err)
	}
	return wallet, nil
}

// Unfreeze returns frozen funds to the available balance
func (l *WalletLedgerImpl) Unfreeze(ctx context.Context, walletID uint, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, NewBusinessError("UNFREEZE_FAILED", "Invalid unfreeze amount", ErrInvalidAmount)
	}

	wallet, err := l.adjustFrozen(ctx, "unfreeze", walletID, func(w *models.Wallet, b *repository.WalletBalances) error {
		if amount.GreaterThan(b.FrozenAmount) {
			return ErrExceedsFrozenAmount
		}
		b.FrozenAmount = b.FrozenAmount.Sub(amount)
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("UNFREEZE_FAILED", "Failed to unfreeze funds", err)
	}
	return wallet, nil
}

func (l *WalletLedgerImpl) adjustFrozen(ctx context.Context, operation string, walletID uint, adjust func(*models.Wallet, *repository.WalletBalances) error) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := l.tx.run(ctx, operation, l.retryPolicy(false), func(txCtx context.Context) error {
		w, err := l.lockWallet(txCtx, walletID)
		if err != nil {
			return err
		}

		balances := balancesOf(w)
		if err := adjust(w, &balances); err != nil {
			return err
		}
		if err := l.writeBalances(txCtx, w, balances); err != nil {
			return err
		}

		action := models.AuditActionFundsFrozen
		if operation == "unfreeze" {
			action = models.AuditActionFundsUnfrozen
		}
		createAuditLog(txCtx, l.auditRepo, l.logger, &w.UserID, action,
			fmt.Sprintf("Wallet %d frozen amount set to %s", w.ID, balances.FrozenAmount.StringFixed(utils.CurrencyPlaces)),
			true, nil, nil)

		w.FrozenAmount = balances.FrozenAmount
		w.Version++
		wallet = w
		return nil
	})
	return wallet, err
}

// ReverseTransaction writes the compensating transaction of a completed one
func (l *WalletLedgerImpl) ReverseTransaction(ctx context.Context, transactionID uint, reason string) (*models.Transaction, error) {
	started := time.Now()

	var reversal *models.Transaction
	err := l.tx.run(ctx, "reverse_transaction", l.retryPolicy(false), func(txCtx context.Context) error {
		original, err := l.transactionRepo.ByIDForUpdate(txCtx, transactionID)
		if err != nil {
			return err
		}
		if original == nil {
			return ErrTransactionNotFound
		}
		if !original.CanBeReversed() || original.ReversalOfID != nil {
			return ErrNotReversible
		}
		existing, err := l.transactionRepo.ByReversalOf(txCtx, original.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrNotReversible
		}

		originalID := original.ID
		description := fmt.Sprintf("Reversal of transaction %d", original.ID)
		if reason != "" {
			description += ": " + reason
		}
		reversal, err = l.apply(txCtx, ApplyTransactionRequest{
			WalletID:      original.WalletID,
			Type:          compensatingType(original.Type),
			Amount:        original.Amount,
			PaymentMethod: "reversal",
			Reference:     utils.ReversalReference(original.ID),
			Description:   description,
			Currency:      original.Currency,
			InvestmentID:  original.InvestmentID,
			ProfitID:      original.ProfitID,
			reversalOf:    &originalID,
		})
		if err != nil {
			if errors.Is(err, ErrDuplicateReference) {
				return ErrNotReversible
			}
			return err
		}

		ok, err := l.transactionRepo.MarkReversed(txCtx, original.ID, l.clock())
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotReversible
		}

		createAuditLog(txCtx, l.auditRepo, l.logger, &original.UserID, models.AuditActionTransactionReversed,
			description, true, nil, map[string]any{"transaction_id": original.ID, "reversal_id": reversal.ID})
		return nil
	})
	if err != nil {
		l.observeFailure(models.TransactionType("reversal"), 0, err, started)
		return nil, NewBusinessError("REVERSE_TRANSACTION_FAILED", "Failed to reverse transaction", err)
	}

	metrics.ObserveTransaction(string(reversal.Type), "reversal", started)
	emit(ctx, l.publisher, l.logger,
		l.transactionEvent(reversal, reason),
		newEvent(l.clock(), events.TypeTransactionReversed, walletKey(reversal.WalletID), l.payloadOf(reversal, reason)),
	)
	return reversal, nil
}

// compensatingType is the type whose signed effect cancels t
func compensatingType(t models.TransactionType) models.TransactionType {
	switch t {
	case models.TransactionTypeDeposit:
		return models.TransactionTypeWithdrawal
	case models.TransactionTypeWithdrawal:
		return models.TransactionTypeDeposit
	case models.TransactionTypeInvestment:
		return models.TransactionTypeRefund
	case models.TransactionTypePenalty:
		return models.TransactionTypeRefund
	}
	// profit and refund
	return models.TransactionTypePenalty
}

// GetWallet returns a wallet by id
func (l *WalletLedgerImpl) GetWallet(ctx context.Context, walletID uint) (*models.Wallet, error) {
	wallet, err := l.walletRepo.ByID(ctx, walletID)
	if err != nil {
		return nil, NewBusinessError("GET_WALLET_FAILED", "Failed to get wallet", err)
	}
	if wallet == nil {
		return nil, NewBusinessError("GET_WALLET_FAILED", "Wallet not found", ErrWalletNotFound)
	}
	return wallet, nil
}

// GetWalletByUser returns the wallet of a user
func (l *WalletLedgerImpl) GetWalletByUser(ctx context.Context, userID uint) (*models.Wallet, error) {
	wallet, err := l.walletRepo.ByUserID(ctx, userID)
	if err != nil {
		return nil, NewBusinessError("GET_WALLET_FAILED", "Failed to get wallet", err)
	}
	if wallet == nil {
		return nil, NewBusinessError("GET_WALLET_FAILED", "Wallet not found", ErrWalletNotFound)
	}
	return wallet, nil
}

// ListTransactions returns transactions newest first
func (l *WalletLedgerImpl) ListTransactions(ctx context.Context, filter models.TransactionFilter, limit, offset int) ([]*models.Transaction, error) {
	txns, err := l.transactionRepo.ByFilter(ctx, filter, "id DESC", limit, offset)
	if err != nil {
		return nil, NewBusinessError("LIST_TRANSACTIONS_FAILED", "Failed to list transactions", err)
	}
	return txns, nil
}

// VerifyWalletIntegrity recomputes the balance from completed transactions
func (l *WalletLedgerImpl) VerifyWalletIntegrity(ctx context.Context, walletID uint) error {
	wallet, err := l.walletRepo.ByID(ctx, walletID)
	if err != nil {
		return NewBusinessError("VERIFY_WALLET_FAILED", "Failed to load wallet", err)
	}
	if wallet == nil {
		return NewBusinessError("VERIFY_WALLET_FAILED", "Wallet not found", ErrWalletNotFound)
	}

	sum, err := l.transactionRepo.SumCompletedSigned(ctx, walletID)
	if err != nil {
		return NewBusinessError("VERIFY_WALLET_FAILED", "Failed to sum transactions", err)
	}

	var violation error
	switch {
	case !sum.Equal(wallet.Balance):
		violation = fmt.Errorf("%w: wallet %d balance %s, transactions sum to %s", ErrBalanceMismatch, walletID,
			wallet.Balance.StringFixed(utils.CurrencyPlaces), sum.StringFixed(utils.CurrencyPlaces))
	case !wallet.ReservationsWithinBalance():
		violation = fmt.Errorf("%w: wallet %d reservations exceed balance", ErrInvariantViolated, walletID)
	}
	if violation != nil {
		reportInvariantViolation(ctx, l.auditRepo, l.logger, "wallet_integrity", violation,
			map[string]any{"wallet_id": walletID, "balance": wallet.Balance.String(), "transactions_sum": sum.String()})
		return NewBusinessError("WALLET_INTEGRITY_VIOLATED", "Wallet failed integrity verification", violation)
	}
	return nil
}

// lockWallet loads and locks an active wallet
func (l *WalletLedgerImpl) lockWallet(txCtx context.Context, walletID uint) (*models.Wallet, error) {
	wallet, err := l.walletRepo.ByIDForUpdate(txCtx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, ErrWalletNotFound
	}
	if !wallet.IsActive() {
		return nil, ErrWalletFrozen
	}
	return wallet, nil
}

func (l *WalletLedgerImpl) saveTransaction(txCtx context.Context, txn *models.Transaction) error {
	if !txn.BalanceConsistent() {
		return fmt.Errorf("%w: transaction %s balance_after does not follow balance_before", ErrInvariantViolated, txn.Reference)
	}
	if err := l.transactionRepo.Save(txCtx, txn); err != nil {
		if repository.IsUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

// writeBalances checks the wallet invariants and persists balances under the version read by the lock
func (l *WalletLedgerImpl) writeBalances(txCtx context.Context, wallet *models.Wallet, b repository.WalletBalances) error {
	if b.Balance.IsNegative() || b.FrozenAmount.IsNegative() || b.PendingAmount.IsNegative() ||
		b.FrozenAmount.Add(b.PendingAmount).GreaterThan(b.Balance) {
		return fmt.Errorf("%w: wallet %d would hold balance %s with frozen %s and pending %s", ErrInvariantViolated,
			wallet.ID, b.Balance, b.FrozenAmount, b.PendingAmount)
	}

	err := l.walletRepo.UpdateBalancesOptimistic(txCtx, wallet.ID, b, wallet.Version)
	if errors.Is(err, repository.ErrVersionMismatch) {
		return ErrConcurrentModification
	}
	return err
}

func (l *WalletLedgerImpl) observeFailure(txType models.TransactionType, walletID uint, err error, started time.Time) {
	category := ErrorCategory(err)
	metrics.ObserveTransaction(string(txType), string(category), started)

	switch category {
	case CategoryStateConflict, CategoryValidation, CategoryNotFound:
		l.logger.Debug("ledger operation rejected", zap.Uint("wallet_id", walletID), zap.Error(err))
	case CategoryInvariant:
		// reported by the transaction runner
	default:
		l.logger.Error("ledger operation failed", zap.Uint("wallet_id", walletID), zap.Error(err))
	}
}

func (l *WalletLedgerImpl) transactionEvent(txn *models.Transaction, reason string) events.Event {
	eventType := events.TypeTransactionCompleted
	switch txn.Status {
	case models.TransactionStatusPending:
		eventType = events.TypeTransactionPending
	case models.TransactionStatusFailed, models.TransactionStatusCancelled:
		eventType = events.TypeTransactionFailed
	}
	return newEvent(l.clock(), eventType, walletKey(txn.WalletID), l.payloadOf(txn, reason))
}

func (l *WalletLedgerImpl) payloadOf(txn *models.Transaction, reason string) TransactionEventPayload {
	return TransactionEventPayload{
		TransactionID: txn.ID,
		WalletID:      txn.WalletID,
		UserID:        txn.UserID,
		Type:          txn.Type,
		Status:        txn.Status,
		Amount:        txn.Amount,
		BalanceBefore: txn.BalanceBefore,
		BalanceAfter:  txn.BalanceAfter,
		Reference:     txn.Reference,
		ReversalOfID:  txn.ReversalOfID,
		Reason:        reason,
	}
}

func walletKey(walletID uint) string {
	return "wallet:" + strconv.FormatUint(uint64(walletID), 10)
}

func balancesOf(w *models.Wallet) repository.WalletBalances {
	return repository.WalletBalances{
		Balance:          w.Balance,
		FrozenAmount:     w.FrozenAmount,
		PendingAmount:    w.PendingAmount,
		TotalDeposits:    w.TotalDeposits,
		TotalWithdrawals: w.TotalWithdrawals,
		TotalInvestments: w.TotalInvestments,
		TotalProfits:     w.TotalProfits,
	}
}

// applyCompleted moves the balance and the matching aggregate counter. Refunds and
// penalties only move the balance.
func applyCompleted(b *repository.WalletBalances, t models.TransactionType, amount decimal.Decimal) {
	b.Balance = b.Balance.Add(t.Signed(amount))
	switch t {
	case models.TransactionTypeDeposit:
		b.TotalDeposits = b.TotalDeposits.Add(amount)
	case models.TransactionTypeWithdrawal:
		b.TotalWithdrawals = b.TotalWithdrawals.Add(amount)
	case models.TransactionTypeInvestment:
		b.TotalInvestments = b.TotalInvestments.Add(amount)
	case models.TransactionTypeProfit:
		b.TotalProfits = b.TotalProfits.Add(amount)
	}
}
