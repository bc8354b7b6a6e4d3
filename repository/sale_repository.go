package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/utils"
	"gorm.io/gorm"
)

// SaleRepositoryImpl implements SaleRepository interface
type SaleRepositoryImpl struct {
	*BaseRepository[models.Sale, models.SaleFilter]
}

// NewSaleRepository creates a new sale repository
func NewSaleRepository(db *gorm.DB) SaleRepository {
	return &SaleRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Sale, models.SaleFilter](db),
	}
}

// ByPlotID finds the sale of a plot
func (r *SaleRepositoryImpl) ByPlotID(ctx context.Context, plotID uint) (*models.Sale, error) {
	db := r.getDB(ctx)
	var sale models.Sale
	err := db.Where("plot_id = ?", plotID).Last(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sale, nil
}

// TransitionStatus advances a sale only when it is still in from
func (r *SaleRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from, to models.SaleStatus, updates map[string]any) (bool, error) {
	values := map[string]any{
		"status":     to,
		"updated_at": utils.UTCNow(),
	}
	for k, v := range updates {
		values[k] = v
	}
	affected, err := r.updateWhere(ctx, values, "id = ? AND status = ?", id, from)
	if err != nil {
		return false, fmt.Errorf("failed to move sale %d from %s to %s: %w", id, from, to, err)
	}
	return affected == 1, nil
}

// ByFilter retrieves sales based on filter criteria
func (r *SaleRepositoryImpl) ByFilter(ctx context.Context, filter models.SaleFilter, orderBy string, limit, offset int) ([]*models.Sale, error) {
	db := r.getDB(ctx)
	var sales []*models.Sale

	query := r.applyFilter(db.Model(&models.Sale{}), filter)
	query = paginate(query, orderBy, limit, offset)

	if err := query.Find(&sales).Error; err != nil {
		return nil, err
	}
	return sales, nil
}

// Count returns the number of sales matching the filter
func (r *SaleRepositoryImpl) Count(ctx context.Context, filter models.SaleFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Sale{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any sale matching the filter exists
func (r *SaleRepositoryImpl) Exists(ctx context.Context, filter models.SaleFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *SaleRepositoryImpl) applyFilter(query *gorm.DB, filter models.SaleFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.PlotID != nil {
		query = query.Where("plot_id = ?", *filter.PlotID)
	}
	if filter.PropertyProjectID != nil {
		query = query.Where("property_project_id = ?", *filter.PropertyProjectID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	return query
}
