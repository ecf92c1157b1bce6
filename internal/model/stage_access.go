package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StageAccess grants one display name the right to decide one stage. A stage
// without rows is open to everyone.
type StageAccess struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Stage       string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_stage_access_name" json:"stage"`
	DisplayName string    `gorm:"type:varchar(150);not null;uniqueIndex:idx_stage_access_name" json:"display_name"`
	CreatedBy   string    `gorm:"type:varchar(150)" json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (StageAccess) TableName() string {
	return "stage_access"
}

func (s *StageAccess) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
