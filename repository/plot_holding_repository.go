package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/plotshare/models"
	"gorm.io/gorm"
)

// PlotHoldingRepositoryImpl implements PlotHoldingRepository interface
type PlotHoldingRepositoryImpl struct {
	*BaseRepository[models.PlotHolding, models.PlotHoldingFilter]
}

// NewPlotHoldingRepository creates a new plot holding repository
func NewPlotHoldingRepository(db *gorm.DB) PlotHoldingRepository {
	return &PlotHoldingRepositoryImpl{
		BaseRepository: NewBaseRepository[models.PlotHolding, models.PlotHoldingFilter](db),
	}
}

// ActiveByPlot returns the active holding of a plot, if any
func (r *PlotHoldingRepositoryImpl) ActiveByPlot(ctx context.Context, plotID uint) (*models.PlotHolding, error) {
	db := r.getDB(ctx)
	var holding models.PlotHolding
	err := db.Where("plot_id = ? AND hold_status = ?", plotID, models.HoldStatusActive).Last(&holding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &holding, nil
}

// ByUserAndPlot returns the holding a user has, or had, on a plot
func (r *PlotHoldingRepositoryImpl) ByUserAndPlot(ctx context.Context, userID, plotID uint) (*models.PlotHolding, error) {
	db := r.getDB(ctx)
	var holding models.PlotHolding
	err := db.Where("user_id = ? AND plot_id = ?", userID, plotID).Last(&holding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &holding, nil
}

// ListActiveByInvestment returns the active holdings backing an investment
func (r *PlotHoldingRepositoryImpl) ListActiveByInvestment(ctx context.Context, investmentID uint) ([]*models.PlotHolding, error) {
	db := r.getDB(ctx)
	var holdings []*models.PlotHolding
	err := db.Where("investment_id = ? AND hold_status = ?", investmentID, models.HoldStatusActive).
		Order("id ASC").
		Find(&holdings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings of investment %d: %w", investmentID, err)
	}
	return holdings, nil
}

// ListExpired returns active holdings whose expiry is before now, oldest first
func (r *PlotHoldingRepositoryImpl) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.PlotHolding, error) {
	db := r.getDB(ctx)
	var holdings []*models.PlotHolding
	query := db.Where("hold_status = ? AND hold_expiry_date < ?", models.HoldStatusActive, now).
		Order("hold_expiry_date ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("failed to list expired holdings: %w", err)
	}
	return holdings, nil
}

// TransitionHold moves an active hold to another hold status.
// The WHERE on hold_status makes concurrent and repeated calls safe.
func (r *PlotHoldingRepositoryImpl) TransitionHold(ctx context.Context, id uint, to models.HoldStatus, holdingStatus *models.HoldingStatus, reason *string, at time.Time) (bool, error) {
	updates := map[string]any{
		"hold_status": to,
		"released_at": at,
		"updated_at":  at,
	}
	if holdingStatus != nil {
		updates["status"] = *holdingStatus
	}
	if reason != nil {
		updates["release_reason"] = *reason
	}
	affected, err := r.updateWhere(ctx, updates, "id = ? AND hold_status = ?", id, models.HoldStatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to move holding %d to %s: %w", id, to, err)
	}
	return affected == 1, nil
}

// MarkSoldByPlot closes the active holding of a sold plot
func (r *PlotHoldingRepositoryImpl) MarkSoldByPlot(ctx context.Context, plotID uint, at time.Time) (int64, error) {
	reason := "plot sold"
	affected, err := r.updateWhere(ctx, map[string]any{
		"status":         models.HoldingStatusSold,
		"hold_status":    models.HoldStatusReleased,
		"release_reason": reason,
		"released_at":    at,
		"updated_at":     at,
	}, "plot_id = ? AND hold_status = ?", plotID, models.HoldStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to close holdings of plot %d: %w", plotID, err)
	}
	return affected, nil
}

// ByFilter retrieves holdings based on filter criteria
func (r *PlotHoldingRepositoryImpl) ByFilter(ctx context.Context, filter models.PlotHoldingFilter, orderBy string, limit, offset int) ([]*models.PlotHolding, error) {
	db := r.getDB(ctx)
	var holdings []*models.PlotHolding

	query := db.Model(&models.PlotHolding{})
	query = r.applyFilter(query, filter)
	query = paginate(query, orderBy, limit, offset)

	if err := query.Find(&holdings).Error; err != nil {
		return nil, err
	}
	return holdings, nil
}

// Count returns the number of holdings matching the filter
func (r *PlotHoldingRepositoryImpl) Count(ctx context.Context, filter models.PlotHoldingFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64

	query := r.applyFilter(db.Model(&models.PlotHolding{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any holding matching the filter exists
func (r *PlotHoldingRepositoryImpl) Exists(ctx context.Context, filter models.PlotHoldingFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyFilter applies the filter to the query
func (r *PlotHoldingRepositoryImpl) applyFilter(query *gorm.DB, filter models.PlotHoldingFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.PlotID != nil {
		query = query.Where("plot_id = ?", *filter.PlotID)
	}
	if filter.InvestmentID != nil {
		query = query.Where("investment_id = ?", *filter.InvestmentID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.HoldStatus != nil {
		query = query.Where("hold_status = ?", *filter.HoldStatus)
	}
	if filter.ExpiresBefore != nil {
		query = query.Where("hold_expiry_date < ?", *filter.ExpiresBefore)
	}
	return query
}
