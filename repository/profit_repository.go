package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/utils"
	"gorm.io/gorm"
)

// ProfitRepositoryImpl implements ProfitRepository interface
type ProfitRepositoryImpl struct {
	*BaseRepository[models.Profit, models.ProfitFilter]
}

// NewProfitRepository creates a new profit repository
func NewProfitRepository(db *gorm.DB) ProfitRepository {
	return &ProfitRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Profit, models.ProfitFilter](db),
	}
}

// BySale returns every profit row of a sale ordered by user
func (r *ProfitRepositoryImpl) BySale(ctx context.Context, saleID uint) ([]*models.Profit, error) {
	db := r.getDB(ctx)
	var profits []*models.Profit
	if err := db.Where("sale_id = ?", saleID).Order("user_id ASC").Find(&profits).Error; err != nil {
		return nil, fmt.Errorf("failed to list profits of sale %d: %w", saleID, err)
	}
	return profits, nil
}

// TransitionStatus advances a profit row only when it is still in from
func (r *ProfitRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from, to models.ProfitStatus, updates map[string]any) (bool, error) {
	values := map[string]any{
		"status":     to,
		"updated_at": utils.UTCNow(),
	}
	for k, v := range updates {
		values[k] = v
	}
	affected, err := r.updateWhere(ctx, values, "id = ? AND status = ?", id, from)
	if err != nil {
		return false, fmt.Errorf("failed to move profit %d from %s to %s: %w", id, from, to, err)
	}
	return affected == 1, nil
}

// ByFilter retrieves profits based on filter criteria
func (r *ProfitRepositoryImpl) ByFilter(ctx context.Context, filter models.ProfitFilter, orderBy string, limit, offset int) ([]*models.Profit, error) {
	db := r.getDB(ctx)
	var profits []*models.Profit

	query := r.applyFilter(db.Model(&models.Profit{}), filter)
	query = paginate(query, orderBy, limit, offset)

	if err := query.Find(&profits).Error; err != nil {
		return nil, err
	}
	return profits, nil
}

// Count returns the number of profits matching the filter
func (r *ProfitRepositoryImpl) Count(ctx context.Context, filter models.ProfitFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Profit{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any profit matching the filter exists
func (r *ProfitRepositoryImpl) Exists(ctx context.Context, filter models.ProfitFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ProfitRepositoryImpl) applyFilter(query *gorm.DB, filter models.ProfitFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.SaleID != nil {
		query = query.Where("sale_id = ?", *filter.SaleID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	return query
}
