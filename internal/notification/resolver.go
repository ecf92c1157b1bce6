package notification

import (
	"context"
	"errors"
	"strings"

	"movementflow/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UserLookup finds a directory user by username, login id or display name.
type UserLookup interface {
	FindByIdentity(ctx context.Context, identity string) (*model.DirectoryUser, error)
}

// Resolver turns a requester display name into an email address.
type Resolver struct {
	users          UserLookup
	fallbackDomain string
	log            *zap.Logger
}

func NewResolver(users UserLookup, fallbackDomain string, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		users:          users,
		fallbackDomain: strings.TrimPrefix(strings.TrimSpace(fallbackDomain), "@"),
		log:            log,
	}
}

// Resolve returns name itself when it already is an address, then the
// directory email, then first.last@fallback. Empty means no recipient.
func (r *Resolver) Resolve(ctx context.Context, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.Contains(name, "@") {
		return name
	}

	if r.users != nil {
		u, err := r.users.FindByIdentity(ctx, name)
		switch {
		case err == nil && strings.TrimSpace(u.Email) != "":
			return strings.TrimSpace(u.Email)
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			r.log.Warn("Directory lookup failed", zap.String("name", name), zap.Error(err))
		}
	}

	if r.fallbackDomain == "" {
		return ""
	}
	local := strings.Join(strings.Fields(strings.ToLower(name)), ".")
	return local + "@" + r.fallbackDomain
}
