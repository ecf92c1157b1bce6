package repository

import (
	"context"

	"movementflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type StageAccessRepository interface {
	List(ctx context.Context) ([]model.StageAccess, error)
	Exists(ctx context.Context, stage, displayName string) (bool, error)
	Create(ctx context.Context, entry *model.StageAccess) error
	Delete(ctx context.Context, id uuid.UUID) (*model.StageAccess, error)
}

type stageAccessRepository struct {
	db *gorm.DB
}

func NewStageAccessRepository(db *gorm.DB) StageAccessRepository {
	return &stageAccessRepository{db: db}
}

func (r *stageAccessRepository) List(ctx context.Context) ([]model.StageAccess, error) {
	var rows []model.StageAccess
	err := GetDB(ctx, r.db).Order("stage ASC, display_name ASC").Find(&rows).Error
	return rows, err
}

// Exists compares display names case-insensitively.
func (r *stageAccessRepository) Exists(ctx context.Context, stage, displayName string) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.StageAccess{}).
		Where("stage = ? AND LOWER(display_name) = LOWER(?)", stage, displayName).
		Count(&count).Error
	return count > 0, err
}

func (r *stageAccessRepository) Create(ctx context.Context, entry *model.StageAccess) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

// Delete removes the row and returns it, or gorm.ErrRecordNotFound.
func (r *stageAccessRepository) Delete(ctx context.Context, id uuid.UUID) (*model.StageAccess, error) {
	db := GetDB(ctx, r.db)
	var row model.StageAccess
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if err := db.Delete(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
