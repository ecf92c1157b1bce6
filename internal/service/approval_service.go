package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"movementflow/internal/access"
	"movementflow/internal/flow"
	"movementflow/internal/model"
	"movementflow/internal/notification"
	"movementflow/internal/observability"
	"movementflow/internal/repository"
	ws "movementflow/internal/websocket"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --- DTOs ---

// DecisionRequest carries the optional approval comment or the mandatory
// reject/modify comment.
type DecisionRequest struct {
	Comment string `json:"comment"`
}

// TransitionResult summarizes an applied stage transition.
type TransitionResult struct {
	RequestID uuid.UUID          `json:"request_id"`
	Stage     flow.Stage         `json:"stage" swaggertype:"string"`
	Action    flow.Action        `json:"action"`
	Status    flow.RequestStatus `json:"status"`
	NextStage *flow.Stage        `json:"next_stage,omitempty" swaggertype:"string"`
	At        time.Time          `json:"at"`
}

// --- Interface ---

type ApprovalService interface {
	Queue(ctx context.Context, stage flow.Stage, actor string, limit, offset int) ([]model.Request, int64, error)
	Detail(ctx context.Context, stage flow.Stage, id uuid.UUID, actor string) (*model.Request, error)
	Approve(ctx context.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (TransitionResult, error)
	Reject(ctx context.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (TransitionResult, error)
	SendToModification(ctx context.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (TransitionResult, error)
}

// ApprovalServiceDeps groups the collaborators of the approval service.
type ApprovalServiceDeps struct {
	Requests  repository.RequestRepository
	Approvals repository.ApprovalRepository
	Audit     repository.AuditRepository
	TxManager repository.TransactionManager
	Gate      access.Gate
	Notifier  *notification.Notifier
	Events    Publisher
	Log       *zap.Logger
	Now       func() time.Time
}

type approvalService struct {
	requestRepo  repository.RequestRepository
	approvalRepo repository.ApprovalRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	gate         access.Gate
	notifier     *notification.Notifier
	events       Publisher
	log          *zap.Logger
	now          func() time.Time
}

func NewApprovalService(d ApprovalServiceDeps) ApprovalService {
	var events Publisher = nopPublisher{}
	if d.Events != nil {
		events = d.Events
	}
	return &approvalService{
		requestRepo:  d.Requests,
		approvalRepo: d.Approvals,
		auditRepo:    d.Audit,
		txManager:    d.TxManager,
		gate:         d.Gate,
		notifier:     d.Notifier,
		events:       events,
		log:          orNop(d.Log),
		now:          orNow(d.Now),
	}
}

// --- Implementation ---

// guard validates the stage and asks the access gate. An empty allow-list
// admits everyone.
func (s *approvalService) guard(ctx context.Context, stage flow.Stage, actor string) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %d", flow.ErrInvalidStageToken, int(stage))
	}
	ok, err := s.gate.HasAccess(ctx, stage, actor)
	if err != nil {
		return fmt.Errorf("failed to check stage access: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s may not act on %s", flow.ErrForbidden, actor, stage)
	}
	return nil
}

func (s *approvalService) Queue(ctx context.Context, stage flow.Stage, actor string, limit, offset int) ([]model.Request, int64, error) {
	if err := s.guard(ctx, stage, actor); err != nil {
		return nil, 0, err
	}
	return s.requestRepo.ListQueue(ctx, stage, limit, offset)
}

func (s *approvalService) Detail(ctx context.Context, stage flow.Stage, id uuid.UUID, actor string) (*model.Request, error) {
	if err := s.guard(ctx, stage, actor); err != nil {
		return nil, err
	}
	req, err := s.requestRepo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	if req.Approval == nil {
		return nil, fmt.Errorf("%w: approval record of %s", flow.ErrNotFound, id)
	}
	return req, nil
}

func (s *approvalService) Approve(ctx context.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (TransitionResult, error) {
	return s.transition(ctx, stage, id, actor, comment, flow.ActionApprove)
}

func (s *approvalService) Reject(ctx context.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (TransitionResult, error) {
	return s.transition(ctx, stage, id, actor, comment, flow.ActionReject)
}

func (s *approvalService) SendToModification(ctx context.Context, stage flow.Stage, id uuid.UUID, actor, comment string) (TransitionResult, error) {
	return s.transition(ctx, stage, id, actor, comment, flow.ActionModify)
}

var auditActions = map[flow.Action]string{
	flow.ActionApprove: model.ActionApproveStage,
	flow.ActionReject:  model.ActionRejectStage,
	flow.ActionModify:  model.ActionModifyStage,
}

// transition runs one read-modify-write of the request and its approval
// record in a transaction. The approval row is re-read under lock and
// written with a version guard, so two concurrent approvals of the same
// stage cannot both commit. Notifications go out after commit.
func (s *approvalService) transition(ctx context.Context, stage flow.Stage, id uuid.UUID, actor, comment string, action flow.Action) (TransitionResult, error) {
	if err := s.guard(ctx, stage, actor); err != nil {
		s.recordFailure(stage, action, err)
		return TransitionResult{}, err
	}

	var (
		t   flow.Transition
		req *model.Request
	)
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		req, err = s.requestRepo.FindForUpdate(txCtx, id)
		if err != nil {
			return notFound(err)
		}
		approval, err := s.approvalRepo.FindByRequestID(txCtx, id)
		if err != nil {
			return notFound(err)
		}

		rec := approval.ToRecord(req.Status)
		at := s.now()
		switch action {
		case flow.ActionApprove:
			t, err = rec.Approve(stage, actor, at, comment)
		case flow.ActionReject:
			t, err = rec.Reject(stage, actor, at, comment)
		case flow.ActionModify:
			t, err = rec.SendToModification(stage, actor, at, comment)
		default:
			err = fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
		}
		if err != nil {
			return err
		}

		approval.Apply(rec)
		if err := s.approvalRepo.Update(txCtx, approval); err != nil {
			return err
		}
		if rec.RequestStatus != req.Status {
			if err := s.requestRepo.UpdateStatus(txCtx, id, rec.RequestStatus); err != nil {
				return fmt.Errorf("failed to update request status: %w", err)
			}
			req.Status = rec.RequestStatus
		}

		details := map[string]interface{}{
			"stage":       stage.String(),
			"comment":     t.Comment,
			"from_status": t.FromStatus,
			"to_status":   t.ToStatus,
		}
		if err := writeAudit(txCtx, s.auditRepo, actor, auditActions[action], id.String(), stage.String(), details); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		s.recordFailure(stage, action, err)
		return TransitionResult{}, err
	}

	observability.StageTransitions.WithLabelValues(stage.String(), string(action)).Inc()
	s.log.Info("Stage transition applied",
		zap.String("request_id", id.String()),
		zap.String("stage", stage.String()),
		zap.String("action", string(action)),
		zap.String("actor", actor),
		zap.String("status", string(t.ToStatus)))

	if s.notifier != nil {
		s.notifier.Transitioned(ctx, notification.Subject{Ref: id.String(), Requester: req.Requester}, t)
	}

	res := TransitionResult{
		RequestID: id,
		Stage:     stage,
		Action:    action,
		Status:    t.ToStatus,
		At:        t.At,
	}
	if action == flow.ActionApprove {
		if next, ok := t.NextStage(); ok {
			res.NextStage = &next
		}
	}
	s.events.Publish(ws.EventRequestUpdated, res)
	return res, nil
}

func (s *approvalService) recordFailure(stage flow.Stage, action flow.Action, err error) {
	reason := failureReason(err)
	label := "invalid"
	if stage.Valid() {
		label = stage.String()
	}
	observability.TransitionFailures.WithLabelValues(label, reason).Inc()
	if reason == "error" {
		s.log.Error("Stage transition failed",
			zap.String("stage", label),
			zap.String("action", string(action)),
			zap.Error(err))
		return
	}
	s.log.Info("Stage transition refused",
		zap.String("stage", label),
		zap.String("action", string(action)),
		zap.String("reason", reason))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, flow.ErrStageAlreadyDecided):
		return "already_decided"
	case errors.Is(err, flow.ErrPriorStagesIncomplete):
		return "prior_incomplete"
	case errors.Is(err, flow.ErrCommentRequired):
		return "comment_required"
	case errors.Is(err, flow.ErrRequestClosed):
		return "closed"
	case errors.Is(err, flow.ErrForbidden):
		return "forbidden"
	case errors.Is(err, flow.ErrNotFound):
		return "not_found"
	case errors.Is(err, repository.ErrConcurrentUpdate):
		return "conflict"
	default:
		return "error"
	}
}
