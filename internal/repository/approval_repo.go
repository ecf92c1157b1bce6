package repository

import (
	"context"
	"errors"
	"time"

	"movementflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrConcurrentUpdate is returned when the approval record changed between
// read and write.
var ErrConcurrentUpdate = errors.New("approval record was modified concurrently")

type ApprovalRepository interface {
	FindByRequestID(ctx context.Context, requestID uuid.UUID) (*model.ApprovalRecord, error)
	Update(ctx context.Context, rec *model.ApprovalRecord) error
}

type approvalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

// FindByRequestID loads the approval record of a request, locking the row
// when called inside a transaction.
func (r *approvalRepository) FindByRequestID(ctx context.Context, requestID uuid.UUID) (*model.ApprovalRecord, error) {
	var rec model.ApprovalRecord
	if err := forUpdate(ctx, GetDB(ctx, r.db)).First(&rec, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update writes every stage column group guarded by the version read earlier.
// On success rec.Version is advanced.
func (r *approvalRepository) Update(ctx context.Context, rec *model.ApprovalRecord) error {
	cols := rec.Columns()
	cols["version"] = rec.Version + 1
	cols["updated_at"] = time.Now()

	res := GetDB(ctx, r.db).Model(&model.ApprovalRecord{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	rec.Version++
	return nil
}
