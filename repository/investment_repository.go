package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/plotshare/models"
	"github.com/amirphl/plotshare/utils"
	"gorm.io/gorm"
)

// InvestmentRepositoryImpl implements InvestmentRepository interface
type InvestmentRepositoryImpl struct {
	*BaseRepository[models.Investment, models.InvestmentFilter]
}

// NewInvestmentRepository creates a new investment repository
func NewInvestmentRepository(db *gorm.DB) InvestmentRepository {
	return &InvestmentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Investment, models.InvestmentFilter](db),
	}
}

// TransitionStatus moves an investment forward only when it is still in from
func (r *InvestmentRepositoryImpl) TransitionStatus(ctx context.Context, id uint, from, to models.InvestmentStatus, updates map[string]any) (bool, error) {
	values := map[string]any{
		"status":     to,
		"updated_at": utils.UTCNow(),
	}
	for k, v := range updates {
		values[k] = v
	}
	affected, err := r.updateWhere(ctx, values, "id = ? AND status = ?", id, from)
	if err != nil {
		return false, fmt.Errorf("failed to move investment %d from %s to %s: %w", id, from, to, err)
	}
	return affected == 1, nil
}

// SetDebitTransaction links the wallet debit that funded the investment
func (r *InvestmentRepositoryImpl) SetDebitTransaction(ctx context.Context, id uint, transactionID uint) error {
	_, err := r.updateWhere(ctx, map[string]any{
		"debit_transaction_id": transactionID,
		"updated_at":           utils.UTCNow(),
	}, "id = ?", id)
	return err
}

// ListDueForMaturity returns approved investments whose maturity date is reached
func (r *InvestmentRepositoryImpl) ListDueForMaturity(ctx context.Context, now time.Time, limit int) ([]*models.Investment, error) {
	db := r.getDB(ctx)
	var investments []*models.Investment
	query := db.Where("status = ? AND maturity_date IS NOT NULL AND maturity_date <= ?", models.InvestmentStatusApproved, now).
		Order("maturity_date ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&investments).Error; err != nil {
		return nil, fmt.Errorf("failed to list matured investments: %w", err)
	}
	return investments, nil
}

// ListProfitEligible returns approved or completed investments of the given types
func (r *InvestmentRepositoryImpl) ListProfitEligible(ctx context.Context, types []models.InvestmentType) ([]*models.Investment, error) {
	db := r.getDB(ctx)
	var investments []*models.Investment
	err := db.Where("status IN ? AND investment_type IN ?",
		[]models.InvestmentStatus{models.InvestmentStatusApproved, models.InvestmentStatusCompleted}, types).
		Order("id ASC").
		Find(&investments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list profit eligible investments: %w", err)
	}
	return investments, nil
}

// ByFilter retrieves investments based on filter criteria
func (r *InvestmentRepositoryImpl) ByFilter(ctx context.Context, filter models.InvestmentFilter, orderBy string, limit, offset int) ([]*models.Investment, error) {
	db := r.getDB(ctx)
	var investments []*models.Investment

	query := db.Model(&models.Investment{})
	query = r.applyFilter(query, filter)
	query = paginate(query, orderBy, limit, offset)

	if err := query.Find(&investments).Error; err != nil {
		return nil, err
	}
	return investments, nil
}

// Count returns the number of investments matching the filter
func (r *InvestmentRepositoryImpl) Count(ctx context.Context, filter models.InvestmentFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64

	query := r.applyFilter(db.Model(&models.Investment{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any investment matching the filter exists
func (r *InvestmentRepositoryImpl) Exists(ctx context.Context, filter models.InvestmentFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// applyFilter applies the filter to the query
func (r *InvestmentRepositoryImpl) applyFilter(query *gorm.DB, filter models.InvestmentFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.PropertyProjectID != nil {
		query = query.Where("property_project_id = ?", *filter.PropertyProjectID)
	}
	if filter.PlotID != nil {
		query = query.Where("plot_id = ?", *filter.PlotID)
	}
	if filter.InvestmentType != nil {
		query = query.Where("investment_type = ?", *filter.InvestmentType)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ParentInvestmentID != nil {
		query = query.Where("parent_investment_id = ?", *filter.ParentInvestmentID)
	}
	if filter.MaturedBefore != nil {
		query = query.Where("maturity_date <= ?", *filter.MaturedBefore)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}
