package repository

import (
	"context"
	"fmt"

	"movementflow/internal/flow"
	"movementflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestFilter narrows request listings.
type RequestFilter struct {
	Requester string
	Statuses  []flow.RequestStatus
	Limit     int
	Offset    int
}

type RequestRepository interface {
	Create(ctx context.Context, req *model.Request) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error)
	List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error)
	ListQueue(ctx context.Context, stage flow.Stage, limit, offset int) ([]model.Request, int64, error)
	ListReady(ctx context.Context, limit, offset int) ([]model.Request, int64, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status flow.RequestStatus) error
	UpdateHeader(ctx context.Context, req *model.Request) error
	ReplaceItems(ctx context.Context, requestID uuid.UUID, items []model.Item) error
	Finalize(ctx context.Context, req *model.Request) error
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("sequence ASC")
}

// Create inserts the header together with its items and approval record.
func (r *requestRepository) Create(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	err := GetDB(ctx, r.db).
		Preload("Items", orderedItems).
		Preload("Evidence").
		Preload("Approval").
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// FindForUpdate reads the header with a row lock inside a transaction.
func (r *requestRepository) FindForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	if err := forUpdate(ctx, GetDB(ctx, r.db)).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error) {
	db := GetDB(ctx, r.db)
	scope := func(q *gorm.DB) *gorm.DB {
		if filter.Requester != "" {
			q = q.Where("LOWER(requester) = LOWER(?)", filter.Requester)
		}
		if len(filter.Statuses) > 0 {
			q = q.Where("status IN ?", filter.Statuses)
		}
		return q
	}

	var total int64
	if err := scope(db.Model(&model.Request{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []model.Request
	q := scope(db).Preload("Approval").Order("created_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(filter.Offset)
	}
	if err := q.Find(&requests).Error; err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// ListQueue returns requests waiting on stage: the stage is pending and,
// unless it is the first one, the stage right before it is approved.
func (r *requestRepository) ListQueue(ctx context.Context, stage flow.Stage, limit, offset int) ([]model.Request, int64, error) {
	if !stage.Valid() {
		return nil, 0, fmt.Errorf("%w: %d", flow.ErrInvalidStageToken, int(stage))
	}

	statusCol := "approval_records." + model.StageColumn(stage, "status")
	scope := func(q *gorm.DB) *gorm.DB {
		q = q.Joins("JOIN approval_records ON approval_records.request_id = requests.id").
			Where(fmt.Sprintf("(%s IS NULL OR %s = '' OR %s = ?)", statusCol, statusCol, statusCol), flow.StatusPending)
		if prev, ok := stage.Prev(); ok {
			q = q.Where("approval_records."+model.StageColumn(prev, "status")+" = ?", flow.StatusApproved)
		}
		return q
	}
	return r.joinedList(ctx, scope, limit, offset)
}

// ListReady returns fully approved requests that are not completed yet.
func (r *requestRepository) ListReady(ctx context.Context, limit, offset int) ([]model.Request, int64, error) {
	scope := func(q *gorm.DB) *gorm.DB {
		q = q.Joins("JOIN approval_records ON approval_records.request_id = requests.id").
			Where("requests.status <> ?", flow.RequestCompleted)
		for _, s := range flow.Stages {
			q = q.Where("approval_records."+model.StageColumn(s, "status")+" = ?", flow.StatusApproved)
		}
		return q
	}
	return r.joinedList(ctx, scope, limit, offset)
}

func (r *requestRepository) joinedList(ctx context.Context, scope func(*gorm.DB) *gorm.DB, limit, offset int) ([]model.Request, int64, error) {
	db := GetDB(ctx, r.db)

	var total int64
	if err := scope(db.Model(&model.Request{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []model.Request
	q := scope(db.Model(&model.Request{})).
		Select("requests.*").
		Preload("Approval").
		Order("requests.created_at DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&requests).Error; err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

func (r *requestRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status flow.RequestStatus) error {
	return GetDB(ctx, r.db).Model(&model.Request{}).Where("id = ?", id).Update("status", status).Error
}

// UpdateHeader writes the editable header fields and the status.
func (r *requestRepository) UpdateHeader(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Model(&model.Request{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
		"department":     req.Department,
		"line":           req.Line,
		"comment":        req.Comment,
		"urgency":        req.Urgency,
		"movement_types": req.MovementTypes,
		"status":         req.Status,
	}).Error
}

// ReplaceItems deletes every item of the request and inserts the new set.
func (r *requestRepository) ReplaceItems(ctx context.Context, requestID uuid.UUID, items []model.Item) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("request_id = ?", requestID).Delete(&model.Item{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].ID = uuid.Nil
		items[i].RequestID = requestID
	}
	return db.Create(&items).Error
}

func (r *requestRepository) Finalize(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Model(&model.Request{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
		"folio":               req.Folio,
		"final_movement_type": req.FinalMovementType,
		"finalized_by":        req.FinalizedBy,
		"finalized_at":        req.FinalizedAt,
		"document_path":       req.DocumentPath,
		"status":              req.Status,
	}).Error
}
