package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"movementflow/internal/model"
	"movementflow/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DTOs for Request validation
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type CreateUserRequest struct {
	Username    string `json:"username" binding:"required,max=100"`
	DisplayName string `json:"display_name" binding:"required,max=150"`
	Email       string `json:"email" binding:"omitempty,email"`
	LoginID     string `json:"login_id" binding:"max=100"`
	Password    string `json:"password" binding:"required,min=6"`
	Role        string `json:"role" binding:"required,oneof=admin approver requester"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Profile   `json:"user"`
}

// Profile is a directory account as seen by the application.
type Profile struct {
	Username    string `json:"username"`
	LoginID     string `json:"login_id,omitempty"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role"`
}

// Directory verifies credentials against the account store.
type Directory interface {
	Authenticate(ctx context.Context, username, password string) (Profile, error)
}

// LocalDirectory authenticates against bcrypt hashes in directory_users.
type LocalDirectory struct {
	users repository.DirectoryUserRepository
}

func NewLocalDirectory(users repository.DirectoryUserRepository) *LocalDirectory {
	return &LocalDirectory{users: users}
}

func (d *LocalDirectory) Authenticate(ctx context.Context, username, password string) (Profile, error) {
	user, err := d.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Profile{}, ErrInvalidCredentials
		}
		return Profile{}, err
	}
	if user.Password == "" {
		return Profile{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return Profile{}, ErrInvalidCredentials
	}
	return profileOf(user), nil
}

func profileOf(u *model.DirectoryUser) Profile {
	return Profile{
		Username:    u.Username,
		LoginID:     u.LoginID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Role:        u.Role,
	}
}

// AuthService defines login and local account management.
type AuthService interface {
	Login(ctx context.Context, req LoginRequest) (*TokenResponse, error)
	CreateUser(ctx context.Context, actor string, req CreateUserRequest) (*Profile, error)
}

type authService struct {
	directory Directory
	users     repository.DirectoryUserRepository
	auditRepo repository.AuditRepository
	secret    []byte
	ttl       time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// NewAuthService returns a new instance of AuthService
func NewAuthService(directory Directory, users repository.DirectoryUserRepository, auditRepo repository.AuditRepository, secret []byte, ttl time.Duration, log *zap.Logger) AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &authService{
		directory: directory,
		users:     users,
		auditRepo: auditRepo,
		secret:    secret,
		ttl:       ttl,
		log:       orNop(log),
		now:       time.Now,
	}
}

func (s *authService) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	profile, err := s.directory.Authenticate(ctx, strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.log.Info("Login refused", zap.String("username", req.Username))
		}
		return nil, err
	}

	// Keep directory_users in sync so notifications can resolve addresses.
	user := &model.DirectoryUser{
		Username:    profile.Username,
		LoginID:     profile.LoginID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
		Role:        profile.Role,
	}
	if user.Role == "" {
		user.Role = model.RoleRequester
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to sync directory user: %w", err)
	}
	profile.Role = user.Role

	expiresAt := s.now().Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"name": profile.DisplayName,
		"role": profile.Role,
		"exp":  expiresAt.Unix(),
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return nil, errors.New("failed to generate token")
	}

	if err := writeAudit(ctx, s.auditRepo, profile.DisplayName, model.ActionDirectoryUserLogin, user.ID.String(), profile.Username, nil); err != nil {
		s.log.Warn("Failed to write login audit", zap.Error(err))
	}

	return &TokenResponse{Token: tokenString, ExpiresAt: expiresAt, User: profile}, nil
}

func (s *authService) CreateUser(ctx context.Context, actor string, req CreateUserRequest) (*Profile, error) {
	if _, err := s.users.GetByUsername(ctx, req.Username); err == nil {
		return nil, fmt.Errorf("%w: username already exists", ErrInvalidInput)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.New("failed to hash password")
	}

	user := &model.DirectoryUser{
		Username:    strings.TrimSpace(req.Username),
		LoginID:     strings.TrimSpace(req.LoginID),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Email:       strings.TrimSpace(req.Email),
		Password:    string(hashedPassword),
		Role:        req.Role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("Directory user created", zap.String("username", user.Username), zap.String("actor", actor))

	p := profileOf(user)
	return &p, nil
}
