package repository

import (
	"context"
	"errors"

	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/utils"
	"gorm.io/gorm"
)

// WalletRepositoryImpl implements WalletRepository interface
type WalletRepositoryImpl struct {
	*BaseRepository[models.Wallet, models.WalletFilter]
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &WalletRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Wallet, models.WalletFilter](db),
	}
}

// ByUserID finds the wallet owned by a user
func (r *WalletRepositoryImpl) ByUserID(ctx context.Context, userID uint) (*models.Wallet, error) {
	db := r.getDB(ctx)
	var wallet models.Wallet
	err := db.Where("user_id = ?", userID).Last(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// UpdateBalancesOptimistic writes every balance column and bumps the version.
// Returns ErrVersionMismatch when another writer got there first.
func (r *WalletRepositoryImpl) UpdateBalancesOptimistic(ctx context.Context, walletID uint, b WalletBalances, expectedVersion int64) error {
	affected, err := r.updateWhere(ctx, map[string]any{
		"balance":           b.Balance,
		"frozen_amount":     b.FrozenAmount,
		"pending_amount":    b.PendingAmount,
		"total_deposits":    b.TotalDeposits,
		"total_withdrawals": b.TotalWithdrawals,
		"total_investments": b.TotalInvestments,
		"total_profits":     b.TotalProfits,
		"version":           expectedVersion + 1,
		"updated_at":        utils.UTCNow(),
	}, "id = ? AND version = ?", walletID, expectedVersion)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionMismatch
	}
	return nil
}

// UpdateStatus changes the wallet status
func (r *WalletRepositoryImpl) UpdateStatus(ctx context.Context, walletID uint, status models.WalletStatus) error {
	_, err := r.updateWhere(ctx, map[string]any{
		"status":     status,
		"updated_at": utils.UTCNow(),
	}, "id = ?", walletID)
	return err
}

// ByFilter retrieves wallets based on filter criteria
func (r *WalletRepositoryImpl) ByFilter(ctx context.Context, filter models.WalletFilter, orderBy string, limit, offset int) ([]*models.Wallet, error) {
	db := r.getDB(ctx)
	var wallets []*models.Wallet

	query := db.Model(&models.Wallet{})
	query = r.applyFilter(query, filter)
	query = paginate(query, orderBy, limit, offset)

	err := query.Find(&wallets).Error
	if err != nil {
		return nil, err
	}
	return wallets, nil
}

// Count returns the number of wallets matching the filter
func (r *WalletRepositoryImpl) Count(ctx context.Context, filter models.WalletFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64

	query := db.Model(&models.Wallet{})
	query = r.applyFilter(query, filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any wallet matching the filter exists
func (r *WalletRepositoryImpl) Exists(ctx context.Context, filter models.WalletFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyFilter applies the filter to the query
func (r *WalletRepositoryImpl) applyFilter(query *gorm.DB, filter models.WalletFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}
