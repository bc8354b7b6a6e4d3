package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/utils"
	"gorm.io/gorm"
)

// PropertyProjectRepositoryImpl implements PropertyProjectRepository interface
type PropertyProjectRepositoryImpl struct {
	*BaseRepository[models.PropertyProject, struct{}]
}

// NewPropertyProjectRepository creates a new property project repository
func NewPropertyProjectRepository(db *gorm.DB) PropertyProjectRepository {
	return &PropertyProjectRepositoryImpl{
		BaseRepository: NewBaseRepository[models.PropertyProject, struct{}](db),
	}
}

// PlotRepositoryImpl implements PlotRepository interface
type PlotRepositoryImpl struct {
	*BaseRepository[models.Plot, models.PlotFilter]
}

// NewPlotRepository creates a new plot repository
func NewPlotRepository(db *gorm.DB) PlotRepository {
	return &PlotRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Plot, models.PlotFilter](db),
	}
}

// ByIDs loads plots by id; missing ids are simply absent from the result
func (r *PlotRepositoryImpl) ByIDs(ctx context.Context, ids []uint) ([]*models.Plot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db := r.getDB(ctx)
	var plots []*models.Plot
	if err := db.Where("id IN ?", ids).Find(&plots).Error; err != nil {
		return nil, fmt.Errorf("failed to load plots: %w", err)
	}
	return plots, nil
}

// MarkHeld is a test-and-set on is_held
func (r *PlotRepositoryImpl) MarkHeld(ctx context.Context, plotID uint) (bool, error) {
	affected, err := r.updateWhere(ctx, map[string]any{
		"is_held":    true,
		"status":     models.PlotStatusHeld,
		"updated_at": utils.UTCNow(),
	}, "id = ? AND is_held = ? AND status = ?", plotID, false, models.PlotStatusAvailable)
	if err != nil {
		return false, fmt.Errorf("failed to mark plot %d held: %w", plotID, err)
	}
	return affected == 1, nil
}

// MarkFree clears the hold flag of a plot that is not sold
func (r *PlotRepositoryImpl) MarkFree(ctx context.Context, plotID uint) error {
	_, err := r.updateWhere(ctx, map[string]any{
		"is_held":    false,
		"status":     models.PlotStatusAvailable,
		"updated_at": utils.UTCNow(),
	}, "id = ? AND status <> ?", plotID, models.PlotStatusSold)
	if err != nil {
		return fmt.Errorf("failed to free plot %d: %w", plotID, err)
	}
	return nil
}

// MarkSold marks a plot sold once; false means it was already sold
func (r *PlotRepositoryImpl) MarkSold(ctx context.Context, plotID uint) (bool, error) {
	affected, err := r.updateWhere(ctx, map[string]any{
		"is_held":    false,
		"status":     models.PlotStatusSold,
		"updated_at": utils.UTCNow(),
	}, "id = ? AND status <> ?", plotID, models.PlotStatusSold)
	if err != nil {
		return false, fmt.Errorf("failed to mark plot %d sold: %w", plotID, err)
	}
	return affected == 1, nil
}

// ByFilter retrieves plots based on filter criteria
func (r *PlotRepositoryImpl) ByFilter(ctx context.Context, filter models.PlotFilter, orderBy string, limit, offset int) ([]*models.Plot, error) {
	db := r.getDB(ctx)
	var plots []*models.Plot

	query := db.Model(&models.Plot{})
	query = r.applyFilter(query, filter)
	query = paginate(query, orderBy, limit, offset)

	if err := query.Find(&plots).Error; err != nil {
		return nil, err
	}
	return plots, nil
}

// Count returns the number of plots matching the filter
func (r *PlotRepositoryImpl) Count(ctx context.Context, filter models.PlotFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64

	query := r.applyFilter(db.Model(&models.Plot{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any plot matching the filter exists
func (r *PlotRepositoryImpl) Exists(ctx context.Context, filter models.PlotFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyFilter applies the filter to the query
func (r *PlotRepositoryImpl) applyFilter(query *gorm.DB, filter models.PlotFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.PropertyProjectID != nil {
		query = query.Where("property_project_id = ?", *filter.PropertyProjectID)
	}
	if filter.Code != nil {
		query = query.Where("code = ?", *filter.Code)
	}
	if filter.IsHeld != nil {
		query = query.Where("is_held = ?", *filter.IsHeld)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	return query
}
