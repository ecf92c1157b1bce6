package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"movementflow/internal/model"

	"gorm.io/gorm"
)

type DirectoryUserRepository interface {
	Create(ctx context.Context, user *model.DirectoryUser) error
	GetByUsername(ctx context.Context, username string) (*model.DirectoryUser, error)
	FindByIdentity(ctx context.Context, identity string) (*model.DirectoryUser, error)
	Upsert(ctx context.Context, user *model.DirectoryUser) error
}

type directoryUserRepository struct {
	db *gorm.DB
}

func NewDirectoryUserRepository(db *gorm.DB) DirectoryUserRepository {
	return &directoryUserRepository{db: db}
}

func (r *directoryUserRepository) Create(ctx context.Context, user *model.DirectoryUser) error {
	return GetDB(ctx, r.db).Create(user).Error
}

func (r *directoryUserRepository) GetByUsername(ctx context.Context, username string) (*model.DirectoryUser, error) {
	var user model.DirectoryUser
	if err := GetDB(ctx, r.db).Where("LOWER(username) = LOWER(?)", strings.TrimSpace(username)).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByIdentity matches a display name, username or login id.
func (r *directoryUserRepository) FindByIdentity(ctx context.Context, identity string) (*model.DirectoryUser, error) {
	id := strings.TrimSpace(identity)
	var user model.DirectoryUser
	err := GetDB(ctx, r.db).
		Where("LOWER(username) = LOWER(?) OR LOWER(login_id) = LOWER(?) OR LOWER(display_name) = LOWER(?)", id, id, id).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Upsert refreshes the profile fields of an existing user or inserts it.
// Password and role of an existing row are left untouched.
func (r *directoryUserRepository) Upsert(ctx context.Context, user *model.DirectoryUser) error {
	db := GetDB(ctx, r.db)
	existing, err := r.GetByUsername(ctx, user.Username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(user).Error
	}
	if err != nil {
		return err
	}

	now := time.Now()
	updates := map[string]interface{}{"last_login_at": now}
	if user.DisplayName != "" {
		updates["display_name"] = user.DisplayName
	}
	if user.Email != "" {
		updates["email"] = user.Email
	}
	if user.LoginID != "" {
		updates["login_id"] = user.LoginID
	}
	if err := db.Model(existing).Updates(updates).Error; err != nil {
		return err
	}
	user.ID = existing.ID
	user.Role = existing.Role
	user.LastLoginAt = &now
	return nil
}
