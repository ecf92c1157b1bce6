package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Roles
const (
	RoleAdmin     = "admin"
	RoleApprover  = "approver"
	RoleRequester = "requester"
)

// DirectoryUser mirrors an account of the corporate directory. It is upserted
// on every successful login and used to resolve notification addresses.
type DirectoryUser struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Username    string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	LoginID     string         `gorm:"type:varchar(100);index" json:"login_id"` // sAMAccountName style identifier
	DisplayName string         `gorm:"type:varchar(150);index;not null" json:"display_name"`
	Email       string         `gorm:"type:varchar(255);index" json:"email"`
	Password    string         `gorm:"type:varchar(255)" json:"-"` // bcrypt hash, only for local accounts
	Role        string         `gorm:"type:varchar(50);not null;default:'requester'" json:"role"`
	LastLoginAt *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"` // GORM soft delete
}

func (u *DirectoryUser) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
