package repository

import (
	"context"
	"errors"

	"github.com/amirphl/plotshare/models"
	"gorm.io/gorm"
)

// TeamStatsRepositoryImpl implements TeamStatsRepository interface
type TeamStatsRepositoryImpl struct {
	*BaseRepository[models.TeamStats, struct{}]
}

// NewTeamStatsRepository creates a new team stats repository
func NewTeamStatsRepository(db *gorm.DB) TeamStatsRepository {
	return &TeamStatsRepositoryImpl{
		BaseRepository: NewBaseRepository[models.TeamStats, struct{}](db),
	}
}

// ByUserID returns the team aggregate of a user
func (r *TeamStatsRepositoryImpl) ByUserID(ctx context.Context, userID uint) (*models.TeamStats, error) {
	db := r.getDB(ctx)
	var stats models.TeamStats
	err := db.Where("user_id = ?", userID).Last(&stats).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &stats, nil
}
