package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"movementflow/internal/flow"
	"movementflow/internal/model"
	"movementflow/internal/notification"
	"movementflow/internal/repository"
	"movementflow/internal/storage"
	ws "movementflow/internal/websocket"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- DTOs ---

type ItemInput struct {
	Sequence            int                 `json:"sequence"`
	PartNumber          string              `json:"part_number" binding:"required,max=50"`
	Description         string              `json:"description" binding:"required,max=100"`
	CaseRef             string              `json:"case_ref" binding:"max=50"`
	MovementCode        string              `json:"movement_code" binding:"max=50"`
	SourceStatus        string              `json:"source_status"`
	SourceLocation      string              `json:"source_location" binding:"max=50"`
	SourceClass         string              `json:"source_class" binding:"max=50"`
	SourceQty           decimal.NullDecimal `json:"source_qty" swaggertype:"number"`
	DestinationStatus   string              `json:"destination_status"`
	DestinationLocation string              `json:"destination_location" binding:"max=50"`
	DestinationClass    string              `json:"destination_class" binding:"max=50"`
	DestinationQty      decimal.NullDecimal `json:"destination_qty" swaggertype:"number"`
	Difference          decimal.NullDecimal `json:"difference" swaggertype:"number"`
	Currency            string              `json:"currency"`
	UnitCost            decimal.NullDecimal `json:"unit_cost" swaggertype:"number"`
}

func (in ItemInput) toModel() model.Item {
	return model.Item{
		Sequence:            in.Sequence,
		PartNumber:          strings.TrimSpace(in.PartNumber),
		Description:         strings.TrimSpace(in.Description),
		CaseRef:             strings.TrimSpace(in.CaseRef),
		MovementCode:        strings.TrimSpace(in.MovementCode),
		SourceStatus:        in.SourceStatus,
		SourceLocation:      strings.TrimSpace(in.SourceLocation),
		SourceClass:         strings.TrimSpace(in.SourceClass),
		SourceQty:           in.SourceQty,
		DestinationStatus:   in.DestinationStatus,
		DestinationLocation: strings.TrimSpace(in.DestinationLocation),
		DestinationClass:    strings.TrimSpace(in.DestinationClass),
		DestinationQty:      in.DestinationQty,
		Difference:          in.Difference,
		Currency:            in.Currency,
		UnitCost:            in.UnitCost,
	}
}

// RequestInput is the editable content of a request, used on create and
// on resubmission.
type RequestInput struct {
	Department    string      `json:"department" binding:"required,max=100"`
	Line          string      `json:"line" binding:"required,max=50"`
	Comment       string      `json:"comment" binding:"required,max=2000"`
	Urgency       string      `json:"urgency" binding:"omitempty,oneof=LOW MEDIUM HIGH"`
	MovementTypes []string    `json:"movement_types"`
	Items         []ItemInput `json:"items" binding:"required,min=1,dive"`
}

// MyRequests groups the caller's requests the way the requester home shows them.
type MyRequests struct {
	ToModify []model.Request `json:"to_modify"`
	Pending  []model.Request `json:"pending"`
	Recent   []model.Request `json:"recent"`
}

// UploadResult lists stored evidence and the names of skipped files.
type UploadResult struct {
	Stored  []model.Evidence `json:"stored"`
	Skipped []string         `json:"skipped,omitempty"`
}

// --- Interface ---

type RequestService interface {
	Create(ctx context.Context, requester string, in RequestInput, files []Upload) (*model.Request, UploadResult, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Request, error)
	Mine(ctx context.Context, requester string) (MyRequests, error)
	Resubmit(ctx context.Context, id uuid.UUID, requester string, in RequestInput, files []Upload) (*model.Request, UploadResult, error)
	UploadEvidence(ctx context.Context, id uuid.UUID, actor string, files []Upload) (UploadResult, error)
}

type requestService struct {
	requestRepo  repository.RequestRepository
	approvals    repository.ApprovalRepository
	evidenceRepo repository.EvidenceRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	policy       flow.Policy
	files        storage.FileStorage
	evidence     storage.Policy
	notifier     *notification.Notifier
	events       Publisher
	log          *zap.Logger
	now          func() time.Time
}

// RequestServiceDeps groups the collaborators of the request service.
type RequestServiceDeps struct {
	Requests  repository.RequestRepository
	Approvals repository.ApprovalRepository
	Evidence  repository.EvidenceRepository
	Audit     repository.AuditRepository
	TxManager repository.TransactionManager
	Policy    flow.Policy
	Files     storage.FileStorage
	MaxBytes  int64
	Notifier  *notification.Notifier
	Events    Publisher
	Log       *zap.Logger
	Now       func() time.Time
}

func NewRequestService(d RequestServiceDeps) RequestService {
	ev := storage.EvidencePolicy
	if d.MaxBytes > 0 {
		ev.MaxBytes = d.MaxBytes
	}
	var events Publisher = nopPublisher{}
	if d.Events != nil {
		events = d.Events
	}
	return &requestService{
		requestRepo:  d.Requests,
		approvals:    d.Approvals,
		evidenceRepo: d.Evidence,
		auditRepo:    d.Audit,
		txManager:    d.TxManager,
		policy:       d.Policy,
		files:        d.Files,
		evidence:     ev,
		notifier:     d.Notifier,
		events:       events,
		log:          orNop(d.Log),
		now:          orNow(d.Now),
	}
}

// --- Implementation ---

func (in RequestInput) apply(req *model.Request) error {
	types, err := flow.ParseMovementTypesStrict(in.MovementTypes)
	if err != nil {
		return err
	}
	if strings.TrimSpace(in.Department) == "" || strings.TrimSpace(in.Line) == "" {
		return fmt.Errorf("%w: department and line are required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Comment) == "" {
		return fmt.Errorf("%w: comment is required", ErrInvalidInput)
	}

	items := make([]model.Item, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, it.toModel())
	}
	if err := model.NormalizeItems(items); err != nil {
		return err
	}

	urgency := strings.ToUpper(strings.TrimSpace(in.Urgency))
	if urgency == "" {
		urgency = model.UrgencyMedium
	}

	req.Department = strings.TrimSpace(in.Department)
	req.Line = strings.TrimSpace(in.Line)
	req.Comment = strings.TrimSpace(in.Comment)
	req.Urgency = urgency
	req.MovementTypes = flow.MovementTokens(types)
	req.Items = items
	return nil
}

func (s *requestService) Create(ctx context.Context, requester string, in RequestInput, files []Upload) (*model.Request, UploadResult, error) {
	requester = strings.TrimSpace(requester)
	if requester == "" {
		return nil, UploadResult{}, fmt.Errorf("%w: requester is required", ErrInvalidInput)
	}

	req := &model.Request{Requester: requester}
	if err := in.apply(req); err != nil {
		return nil, UploadResult{}, err
	}

	now := s.now()
	rec := flow.NewRecord(s.policy.Evaluate(req.Subject()), now)
	approval := &model.ApprovalRecord{}
	approval.Apply(rec)
	req.Approval = approval
	req.Status = rec.RequestStatus
	req.CreatedAt = now

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.requestRepo.Create(txCtx, req); err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		details := map[string]interface{}{
			"department":     req.Department,
			"line":           req.Line,
			"movement_types": req.MovementTypes,
			"items":          len(req.Items),
		}
		if err := writeAudit(txCtx, s.auditRepo, requester, model.ActionCreateRequest, req.ID.String(), req.Department, details); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, UploadResult{}, err
	}

	s.log.Info("Movement request created",
		zap.String("request_id", req.ID.String()),
		zap.String("requester", requester),
		zap.Strings("movement_types", req.MovementTypes))

	uploaded := s.storeEvidence(ctx, req.ID, requester, files)

	if s.notifier != nil {
		s.notifier.Submitted(notification.Subject{Ref: req.ID.String(), Requester: requester})
	}
	s.events.Publish(ws.EventRequestCreated, map[string]interface{}{"id": req.ID, "status": req.Status})

	full, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, uploaded, err
	}
	return full, uploaded, nil
}

func (s *requestService) Get(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	req, err := s.requestRepo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return req, nil
}

func (s *requestService) Mine(ctx context.Context, requester string) (MyRequests, error) {
	var out MyRequests
	var err error

	out.ToModify, _, err = s.requestRepo.List(ctx, repository.RequestFilter{
		Requester: requester,
		Statuses:  []flow.RequestStatus{flow.RequestPendingModification},
	})
	if err != nil {
		return MyRequests{}, err
	}
	out.Pending, _, err = s.requestRepo.List(ctx, repository.RequestFilter{
		Requester: requester,
		Statuses:  []flow.RequestStatus{flow.RequestNew, flow.RequestInProgress},
	})
	if err != nil {
		return MyRequests{}, err
	}
	out.Recent, _, err = s.requestRepo.List(ctx, repository.RequestFilter{
		Requester: requester,
		Limit:     10,
	})
	if err != nil {
		return MyRequests{}, err
	}
	return out, nil
}

// Resubmit replaces the content of a request returned for modification and
// restarts its approval from the first stage.
func (s *requestService) Resubmit(ctx context.Context, id uuid.UUID, requester string, in RequestInput, files []Upload) (*model.Request, UploadResult, error) {
	update := &model.Request{}
	if err := in.apply(update); err != nil {
		return nil, UploadResult{}, err
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		req, err := s.requestRepo.FindForUpdate(txCtx, id)
		if err != nil {
			return notFound(err)
		}
		if !strings.EqualFold(strings.TrimSpace(req.Requester), strings.TrimSpace(requester)) {
			return ErrNotOwner
		}
		if req.Status != flow.RequestPendingModification {
			return fmt.Errorf("%w: status is %s", ErrNotEditable, req.Status)
		}

		approval, err := s.approvals.FindByRequestID(txCtx, id)
		if err != nil {
			return notFound(err)
		}

		update.ID = id
		rec := approval.ToRecord(req.Status)
		rec.Reset(s.policy.Evaluate(update.Subject()), s.now())
		approval.Apply(rec)
		update.Status = rec.RequestStatus

		if err := s.requestRepo.UpdateHeader(txCtx, update); err != nil {
			return fmt.Errorf("failed to update request: %w", err)
		}
		if err := s.requestRepo.ReplaceItems(txCtx, id, update.Items); err != nil {
			return fmt.Errorf("failed to replace items: %w", err)
		}
		if err := s.approvals.Update(txCtx, approval); err != nil {
			return err
		}

		details := map[string]interface{}{
			"movement_types": update.MovementTypes,
			"items":          len(update.Items),
		}
		if err := writeAudit(txCtx, s.auditRepo, requester, model.ActionResubmitRequest, id.String(), update.Department, details); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, UploadResult{}, err
	}

	s.log.Info("Movement request resubmitted", zap.String("request_id", id.String()), zap.String("requester", requester))

	uploaded := s.storeEvidence(ctx, id, requester, files)
	if s.notifier != nil {
		s.notifier.Submitted(notification.Subject{Ref: id.String(), Requester: requester})
	}
	s.events.Publish(ws.EventRequestUpdated, map[string]interface{}{"id": id, "status": flow.RequestNew})

	full, err := s.Get(ctx, id)
	if err != nil {
		return nil, uploaded, err
	}
	return full, uploaded, nil
}

func (s *requestService) UploadEvidence(ctx context.Context, id uuid.UUID, actor string, files []Upload) (UploadResult, error) {
	if _, err := s.requestRepo.FindByID(ctx, id); err != nil {
		return UploadResult{}, notFound(err)
	}
	return s.storeEvidence(ctx, id, actor, files), nil
}

// storeEvidence saves every acceptable file. Files with a disallowed
// extension, an empty body or an oversize body are skipped.
func (s *requestService) storeEvidence(ctx context.Context, requestID uuid.UUID, actor string, files []Upload) UploadResult {
	var res UploadResult
	for _, f := range files {
		ev, err := s.storeOne(ctx, requestID, actor, f)
		if err != nil {
			s.log.Warn("Evidence file skipped",
				zap.String("request_id", requestID.String()),
				zap.String("file", f.Name),
				zap.Error(err))
			res.Skipped = append(res.Skipped, f.Name)
			continue
		}
		res.Stored = append(res.Stored, *ev)
	}
	return res
}

func (s *requestService) storeOne(ctx context.Context, requestID uuid.UUID, actor string, f Upload) (*model.Evidence, error) {
	ext, err := s.evidence.Check(f.Name, f.Size)
	if err != nil {
		return nil, err
	}
	if f.Open == nil {
		return nil, errors.New("no content")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	rel := storage.EvidencePath(requestID, ext)
	n, err := s.files.Save(rel, rc, s.evidence.MaxBytes)
	if err != nil {
		return nil, err
	}

	ev := &model.Evidence{
		RequestID:    requestID,
		OriginalName: f.Name,
		StoredPath:   rel,
		ContentType:  f.ContentType,
		Size:         n,
		UploadedBy:   actor,
	}
	if err := s.evidenceRepo.Create(ctx, ev); err != nil {
		_ = s.files.Remove(rel)
		return nil, fmt.Errorf("failed to record evidence: %w", err)
	}
	_ = writeAudit(ctx, s.auditRepo, actor, model.ActionUploadEvidence, requestID.String(), f.Name,
		map[string]interface{}{"path": rel, "size": n})
	return ev, nil
}
