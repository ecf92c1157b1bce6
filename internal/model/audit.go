package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionCreateRequest      = "CREATE_REQUEST"
	ActionResubmitRequest    = "RESUBMIT_REQUEST"
	ActionApproveStage       = "APPROVE_STAGE"
	ActionRejectStage        = "REJECT_STAGE"
	ActionModifyStage        = "MODIFY_STAGE"
	ActionFinalizeRequest    = "FINALIZE_REQUEST"
	ActionUploadEvidence     = "UPLOAD_EVIDENCE"
	ActionGrantStageAccess   = "GRANT_STAGE_ACCESS"
	ActionRevokeStageAccess  = "REVOKE_STAGE_ACCESS"
	ActionDirectoryUserLogin = "DIRECTORY_LOGIN"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Actor      string         `gorm:"type:varchar(150);index" json:"actor"` // display name, SYSTEM for automated steps
	Action     string         `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string         `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string         `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    datatypes.JSON `json:"details"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
