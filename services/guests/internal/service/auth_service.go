package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"

	"github.com/aetherhome/aether/pkg/auth"
	"github.com/aetherhome/aether/pkg/config"
	"github.com/aetherhome/aether/pkg/logger"
	"github.com/aetherhome/aether/services/guests/internal/domain"
	"github.com/aetherhome/aether/services/guests/internal/repository"
)

type AuthService interface {
	Signup(ctx context.Context, req *domain.SignupRequest) (*domain.Owner, error)
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
}

type authService struct {
	owners repository.OwnerRepository
	config *config.Config
}

func NewAuthService(owners repository.OwnerRepository, config *config.Config) AuthService {
	return &authService{owners: owners, config: config}
}

func (s *authService) Signup(ctx context.Context, req *domain.SignupRequest) (*domain.Owner, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.owners.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing owner: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	passwordHash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	houseID, err := uniqueCode(ctx, s.owners.HouseIDExists)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate house id: %w", err)
	}

	owner, err := s.owners.Create(ctx, &domain.Owner{
		Email:        req.Email,
		FirstName:    req.FirstName,
		PasswordHash: passwordHash,
		PlanType:     req.PlanType,
		HouseID:      houseID,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create owner: %w", err)
	}

	logger.InfoContext(ctx, "Owner signed up", "owner_id", owner.ID, "plan_type", owner.PlanType)
	return owner, nil
}

func (s *authService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.TokenPair, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	owner, err := s.owners.FindByEmail(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to find owner: %w", err)
	}
	if owner == nil {
		return nil, ErrInvalidCredentials
	}

	match, err := argon2id.ComparePasswordAndHash(req.Password, owner.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		logger.WarnContext(ctx, "Failed login attempt", "owner_id", owner.ID)
		return nil, ErrInvalidCredentials
	}

	return s.issuePair(owner)
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := auth.ParseAs(refreshToken, s.config.Auth.JWTSecret, auth.TokenRefresh)
	if err != nil {
		return nil, ErrInvalidToken
	}

	owner, err := s.owners.FindByID(ctx, claims.Sub)
	if err != nil {
		return nil, fmt.Errorf("failed to find owner: %w", err)
	}
	if owner == nil {
		return nil, ErrInvalidToken
	}

	access, err := auth.NewAccessToken(owner.ID, owner.Email, auth.RoleOwner, owner.HouseID, s.config.Auth.JWTSecret, s.config.Auth.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	return &domain.TokenPair{Access: access}, nil
}

func (s *authService) issuePair(owner *domain.Owner) (*domain.TokenPair, error) {
	cfg := s.config.Auth
	access, err := auth.NewAccessToken(owner.ID, owner.Email, auth.RoleOwner, owner.HouseID, cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, err := auth.NewRefreshToken(owner.ID, owner.Email, auth.RoleOwner, owner.HouseID, cfg.JWTSecret, cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}
	return &domain.TokenPair{Access: access, Refresh: refresh}, nil
}
