package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"movementflow/internal/flow"
	"movementflow/internal/model"
	"movementflow/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service manages the stage allow-lists and answers access checks from the
// cache.
type Service struct {
	repo  repository.StageAccessRepository
	audit repository.AuditRepository
	cache *Cache
	bus   *Bus
	log   *zap.Logger
}

func NewService(repo repository.StageAccessRepository, audit repository.AuditRepository, cache *Cache, bus *Bus, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, audit: audit, cache: cache, bus: bus, log: log}
}

// RepositoryLoader reads allow-lists from the stage_access table. Rows with
// unknown stage tokens are ignored.
func RepositoryLoader(repo repository.StageAccessRepository) Loader {
	return LoaderFunc(func(ctx context.Context) (map[flow.Stage][]string, error) {
		rows, err := repo.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("load stage access: %w", err)
		}
		out := make(map[flow.Stage][]string)
		for _, row := range rows {
			stage, err := flow.ParseStage(row.Stage)
			if err != nil {
				continue
			}
			out[stage] = append(out[stage], row.DisplayName)
		}
		return out, nil
	})
}

func (s *Service) HasAccess(ctx context.Context, stage flow.Stage, displayName string) (bool, error) {
	return s.cache.HasAccess(ctx, stage, displayName)
}

// Snapshot copies the cached allow-list for display.
func (s *Service) Snapshot(ctx context.Context) (map[flow.Stage][]string, error) {
	return s.cache.Snapshot(ctx)
}

// List returns the raw rows, including ids for revocation.
func (s *Service) List(ctx context.Context) ([]model.StageAccess, error) {
	return s.repo.List(ctx)
}

// Grant adds display names to a stage. Blank and already granted names are
// skipped. It returns the rows created.
func (s *Service) Grant(ctx context.Context, stage flow.Stage, names []string, actor string) ([]model.StageAccess, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: %d", flow.ErrInvalidStageToken, int(stage))
	}

	created := make([]model.StageAccess, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		key := normalize(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		exists, err := s.repo.Exists(ctx, stage.String(), name)
		if err != nil {
			return nil, fmt.Errorf("check stage access: %w", err)
		}
		if exists {
			continue
		}

		entry := model.StageAccess{Stage: stage.String(), DisplayName: name, CreatedBy: actor}
		if err := s.repo.Create(ctx, &entry); err != nil {
			return nil, fmt.Errorf("grant stage access: %w", err)
		}
		created = append(created, entry)
	}

	if len(created) > 0 {
		s.writeAudit(ctx, actor, model.ActionGrantStageAccess, stage.String(), map[string]interface{}{
			"stage": stage.String(),
			"names": namesOf(created),
		})
	}
	s.invalidate(ctx, "grant")
	return created, nil
}

// Revoke deletes one allow-list row.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, actor string) error {
	row, err := s.repo.Delete(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: stage access %s", flow.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("revoke stage access: %w", err)
	}

	s.writeAudit(ctx, actor, model.ActionRevokeStageAccess, row.Stage, map[string]interface{}{
		"stage": row.Stage,
		"name":  row.DisplayName,
	})
	s.invalidate(ctx, "revoke")
	return nil
}

// Listen keeps the local cache in sync with invalidations published by other
// instances.
func (s *Service) Listen(ctx context.Context) error {
	return s.bus.Subscribe(ctx, func(reason string) {
		s.log.Debug("stage access invalidated remotely", zap.String("reason", reason))
		s.cache.Invalidate()
	})
}

func (s *Service) invalidate(ctx context.Context, reason string) {
	s.cache.Invalidate()
	if err := s.bus.Publish(ctx, reason); err != nil {
		s.log.Warn("failed to publish stage access invalidation", zap.Error(err))
	}
}

func (s *Service) writeAudit(ctx context.Context, actor, action, entity string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(details)
	entry := model.AuditLog{
		Actor:      actor,
		Action:     action,
		EntityID:   entity,
		EntityName: "stage_access",
		Details:    payload,
	}
	if err := s.audit.Log(ctx, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func namesOf(rows []model.StageAccess) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.DisplayName
	}
	return out
}
