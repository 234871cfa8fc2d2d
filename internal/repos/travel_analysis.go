package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/types"
)

type TravelAnalysisRepo interface {
	// Create appends records; committed analyses are never updated.
	Create(ctx context.Context, tx *gorm.DB, records []*types.TravelAnalysis) ([]*types.TravelAnalysis, error)
	// GetLatestByUserID returns the most recent record by creation
	// order, or nil when the user has none.
	GetLatestByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.TravelAnalysis, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.TravelAnalysis, error)
	CountByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error)
}

type travelAnalysisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTravelAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) TravelAnalysisRepo {
	return &travelAnalysisRepo{db: db, log: baseLog.With("repo", "TravelAnalysisRepo")}
}

func (r *travelAnalysisRepo) Create(ctx context.Context, tx *gorm.DB, records []*types.TravelAnalysis) ([]*types.TravelAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(records) == 0 {
		return []*types.TravelAnalysis{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *travelAnalysisRepo) GetLatestByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.TravelAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var record types.TravelAnalysis
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *travelAnalysisRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.TravelAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.TravelAnalysis
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *travelAnalysisRepo) CountByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.TravelAnalysis{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
