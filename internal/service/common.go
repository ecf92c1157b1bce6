package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"movementflow/internal/flow"
	"movementflow/internal/model"
	"movementflow/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotOwner is returned when someone other than the requester edits a request.
	ErrNotOwner = errors.New("only the requester can change this request")
	// ErrNotEditable is returned when a request is not waiting for modification.
	ErrNotEditable = errors.New("request is not pending modification")
	// ErrNotFinalizable is returned when a request is not fully approved or already completed.
	ErrNotFinalizable = errors.New("request cannot be finalized")
	// ErrInvalidInput covers malformed payloads.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredentials is returned by login for unknown users or wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Upload is a file received from a client.
type Upload struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// Publisher pushes realtime events to connected clients.
type Publisher interface {
	Publish(event string, data interface{})
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}) {}

// notFound maps a missing row to flow.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return flow.ErrNotFound
	}
	return err
}

func writeAudit(ctx context.Context, repo repository.AuditRepository, actor, action, entityID, entityName string, details interface{}) error {
	raw, _ := json.Marshal(details)
	return repo.Log(ctx, &model.AuditLog{
		Actor:      actor,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    raw,
	})
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

func orNow(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
