package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/types"
)

type UserSettingsRepo interface {
	// GetOrCreate returns the user's settings row, inserting one with
	// defaults on first access.
	GetOrCreate(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.UserSettings, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, userID uuid.UUID, updates map[string]interface{}) error
}

type userSettingsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserSettingsRepo(db *gorm.DB, baseLog *logger.Logger) UserSettingsRepo {
	return &userSettingsRepo{db: db, log: baseLog.With("repo", "UserSettingsRepo")}
}

func (r *userSettingsRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.UserSettings, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, errors.New("missing user id")
	}

	var settings types.UserSettings
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&settings).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	settings = types.UserSettings{
		UserID:                 userID,
		RefreshIntervalSeconds: types.DefaultRefreshIntervalSeconds,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	// Two callers can race here; the conflict clause keeps first-access
	// idempotent.
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&settings).Error; err != nil {
		return nil, err
	}
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&settings).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *userSettingsRepo) UpdateFields(ctx context.Context, tx *gorm.DB, userID uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return errors.New("missing user id")
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return transaction.WithContext(ctx).
		Model(&types.UserSettings{}).
		Where("user_id = ?", userID).
		Updates(updates).Error
}
