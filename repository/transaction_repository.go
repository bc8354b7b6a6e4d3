package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/plotshare/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionRepositoryImpl implements TransactionRepository interface
type TransactionRepositoryImpl struct {
	*BaseRepository[models.Transaction, models.TransactionFilter]
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &TransactionRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Transaction, models.TransactionFilter](db),
	}
}

// ByReference finds a transaction by its unique reference
func (r *TransactionRepositoryImpl) ByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	db := r.getDB(ctx)
	var txn models.Transaction
	err := db.Where("reference = ?", reference).Last(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// ByReversalOf finds the compensating transaction written for originalID
func (r *TransactionRepositoryImpl) ByReversalOf(ctx context.Context, originalID uint) (*models.Transaction, error) {
	db := r.getDB(ctx)
	var txn models.Transaction
	err := db.Where("reversal_of_id = ?", originalID).Last(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// Finalize moves a pending transaction to status. Only pending rows are touched.
func (r *TransactionRepositoryImpl) Finalize(ctx context.Context, id uint, status models.TransactionStatus, balanceBefore, balanceAfter decimal.Decimal, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":         status,
		"balance_before": balanceBefore,
		"balance_after":  balanceAfter,
		"updated_at":     at,
	}
	if status == models.TransactionStatusCompleted {
		updates["completed_at"] = at
	}
	affected, err := r.updateWhere(ctx, updates, "id = ? AND status = ?", id, models.TransactionStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to finalize transaction %d: %w", id, err)
	}
	return affected == 1, nil
}

// MarkReversed stamps reversed_at on a completed transaction that has not been reversed yet
func (r *TransactionRepositoryImpl) MarkReversed(ctx context.Context, id uint, at time.Time) (bool, error) {
	affected, err := r.updateWhere(ctx, map[string]any{
		"reversed_at": at,
		"updated_at":  at,
	}, "id = ? AND status = ? AND reversed_at IS NULL", id, models.TransactionStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction %d reversed: %w", id, err)
	}
	return affected == 1, nil
}

// SumCompletedSigned returns the signed sum of every completed transaction of a wallet.
// Summation happens in decimal so every backend yields the exact same figure.
func (r *TransactionRepositoryImpl) SumCompletedSigned(ctx context.Context, walletID uint) (decimal.Decimal, error) {
	db := r.getDB(ctx)

	var rows []struct {
		Type   models.TransactionType
		Amount decimal.Decimal
	}
	err := db.Model(&models.Transaction{}).
		Select("type, amount").
		Where("wallet_id = ? AND status = ?", walletID, models.TransactionStatusCompleted).
		Scan(&rows).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions of wallet %d: %w", walletID, err)
	}

	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Type.Signed(row.Amount))
	}
	return sum, nil
}

// ByFilter retrieves transactions based on filter criteria
func (r *TransactionRepositoryImpl) ByFilter(ctx context.Context, filter models.TransactionFilter, orderBy string, limit, offset int) ([]*models.Transaction, error) {
	db := r.getDB(ctx)
	var txns []*models.Transaction

	query := db.Model(&models.Transaction{})
	query = r.applyFilter(query, filter)
	query = paginate(query, orderBy, limit, offset)

	err := query.Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// Count returns the number of transactions matching the filter
func (r *TransactionRepositoryImpl) Count(ctx context.Context, filter models.TransactionFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64

	query := db.Model(&models.Transaction{})
	query = r.applyFilter(query, filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any transaction matching the filter exists
func (r *TransactionRepositoryImpl) Exists(ctx context.Context, filter models.TransactionFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyFilter applies the filter to the query
func (r *TransactionRepositoryImpl) applyFilter(query *gorm.DB, filter models.TransactionFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.WalletID != nil {
		query = query.Where("wallet_id = ?", *filter.WalletID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Reference != nil {
		query = query.Where("reference = ?", *filter.Reference)
	}
	if filter.InvestmentID != nil {
		query = query.Where("investment_id = ?", *filter.InvestmentID)
	}
	if filter.ProfitID != nil {
		query = query.Where("profit_id = ?", *filter.ProfitID)
	}
	if filter.ReversalOfID != nil {
		query = query.Where("reversal_of_id = ?", *filter.ReversalOfID)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}
