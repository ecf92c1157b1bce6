package repository

import (
	"context"

	"movementflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EvidenceRepository interface {
	Create(ctx context.Context, ev *model.Evidence) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.Evidence, error)
}

type evidenceRepository struct {
	db *gorm.DB
}

func NewEvidenceRepository(db *gorm.DB) EvidenceRepository {
	return &evidenceRepository{db: db}
}

func (r *evidenceRepository) Create(ctx context.Context, ev *model.Evidence) error {
	return GetDB(ctx, r.db).Create(ev).Error
}

func (r *evidenceRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.Evidence, error) {
	var list []model.Evidence
	err := GetDB(ctx, r.db).Where("request_id = ?", requestID).Order("created_at ASC").Find(&list).Error
	return list, err
}
