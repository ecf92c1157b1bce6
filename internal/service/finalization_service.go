package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"movementflow/internal/flow"
	"movementflow/internal/model"
	"movementflow/internal/observability"
	"movementflow/internal/repository"
	"movementflow/internal/storage"
	ws "movementflow/internal/websocket"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FinalMovementTypes are the movement types accepted at finalization.
var FinalMovementTypes = []flow.MovementType{
	flow.MovementFDO, flow.MovementPDO, flow.MovementMLO, flow.MovementESTATUS, flow.MovementWDO,
}

const maxFolioLength = 50

// FinalizeInput is the data captured when a request is closed.
type FinalizeInput struct {
	Folio        string `form:"folio" json:"folio" binding:"max=50"`
	MovementType string `form:"movement_type" json:"movement_type" binding:"required"`
}

// CanFinalize reports whether a request with this record and status may be
// finalized: every stage approved and not completed yet.
func CanFinalize(rec *flow.Record, status flow.RequestStatus) bool {
	return rec != nil && rec.IsFullyApproved() && status != flow.RequestCompleted
}

type FinalizationService interface {
	ListReady(ctx context.Context, limit, offset int) ([]model.Request, int64, error)
	Finalize(ctx context.Context, id uuid.UUID, actor string, in FinalizeInput, doc *Upload) (*model.Request, error)
}

type FinalizationServiceDeps struct {
	Requests  repository.RequestRepository
	Approvals repository.ApprovalRepository
	Audit     repository.AuditRepository
	TxManager repository.TransactionManager
	Files     storage.FileStorage
	Events    Publisher
	Log       *zap.Logger
	Now       func() time.Time
}

type finalizationService struct {
	requestRepo  repository.RequestRepository
	approvalRepo repository.ApprovalRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
	files        storage.FileStorage
	events       Publisher
	log          *zap.Logger
	now          func() time.Time
}

func NewFinalizationService(d FinalizationServiceDeps) FinalizationService {
	var events Publisher = nopPublisher{}
	if d.Events != nil {
		events = d.Events
	}
	return &finalizationService{
		requestRepo:  d.Requests,
		approvalRepo: d.Approvals,
		auditRepo:    d.Audit,
		txManager:    d.TxManager,
		files:        d.Files,
		events:       events,
		log:          orNop(d.Log),
		now:          orNow(d.Now),
	}
}

func (s *finalizationService) ListReady(ctx context.Context, limit, offset int) ([]model.Request, int64, error) {
	return s.requestRepo.ListReady(ctx, limit, offset)
}

func parseFinalMovementType(token string) (flow.MovementType, error) {
	mt, err := flow.ParseMovementType(token)
	if err != nil {
		return "", err
	}
	for _, allowed := range FinalMovementTypes {
		if mt == allowed {
			return mt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", flow.ErrInvalidMovementType, token)
}

// Finalize stores the closing document and marks the request COMPLETED.
func (s *finalizationService) Finalize(ctx context.Context, id uuid.UUID, actor string, in FinalizeInput, doc *Upload) (*model.Request, error) {
	mt, err := parseFinalMovementType(in.MovementType)
	if err != nil {
		return nil, err
	}
	folio := strings.TrimSpace(in.Folio)
	if len(folio) > maxFolioLength {
		return nil, fmt.Errorf("%w: folio longer than %d characters", ErrInvalidInput, maxFolioLength)
	}
	if doc == nil || doc.Open == nil {
		return nil, fmt.Errorf("%w: a document is required", ErrInvalidInput)
	}
	if _, err := storage.FinalDocumentPolicy.Check(doc.Name, doc.Size); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var stored string
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		req, err := s.requestRepo.FindForUpdate(txCtx, id)
		if err != nil {
			return notFound(err)
		}
		approval, err := s.approvalRepo.FindByRequestID(txCtx, id)
		if err != nil {
			return notFound(err)
		}
		if !CanFinalize(approval.ToRecord(req.Status), req.Status) {
			return fmt.Errorf("%w: status %s", ErrNotFinalizable, req.Status)
		}

		now := s.now()
		rel := storage.FinalDocumentPath(id, doc.Name, now)
		rc, err := doc.Open()
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		_, err = s.files.Save(rel, rc, 0)
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to store document: %w", err)
		}
		stored = rel

		req.Folio = folio
		req.FinalMovementType = string(mt)
		req.FinalizedBy = actor
		req.FinalizedAt = &now
		req.DocumentPath = rel
		req.Status = flow.RequestCompleted
		if err := s.requestRepo.Finalize(txCtx, req); err != nil {
			return fmt.Errorf("failed to finalize request: %w", err)
		}

		details := map[string]interface{}{
			"folio":         folio,
			"movement_type": mt,
			"document":      rel,
		}
		if err := writeAudit(txCtx, s.auditRepo, actor, model.ActionFinalizeRequest, id.String(), folio, details); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		if stored != "" {
			_ = s.files.Remove(stored)
		}
		return nil, err
	}

	observability.RequestsFinalized.WithLabelValues(string(mt)).Inc()
	s.log.Info("Movement request finalized",
		zap.String("request_id", id.String()),
		zap.String("folio", folio),
		zap.String("movement_type", string(mt)),
		zap.String("actor", actor))
	s.events.Publish(ws.EventRequestFinalized, map[string]interface{}{"id": id, "status": flow.RequestCompleted})

	req, err := s.requestRepo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return req, nil
}
