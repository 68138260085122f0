package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aetherhome/aether/pkg/auth"
	"github.com/aetherhome/aether/pkg/config"
	"github.com/aetherhome/aether/pkg/events"
	"github.com/aetherhome/aether/pkg/logger"
	"github.com/aetherhome/aether/services/guests/internal/domain"
	"github.com/aetherhome/aether/services/guests/internal/repository"
)

const guestDashboard = "/guest-dashboard"

// List filters accepted by ListGuests. The default lists verified guests.
const (
	FilterActive  = "active"
	FilterPending = "pending"
	FilterAll     = "all"
)

type GuestService interface {
	CreateDraft(ctx context.Context, ownerID int64, req *domain.CreateGuestRequest) (*domain.CreateGuestResponse, error)
	CheckVerification(ctx context.Context, ownerID, guestID int64) (*domain.VerificationResponse, error)
	DeleteUnverified(ctx context.Context, ownerID, guestID int64) (*domain.DeleteResponse, error)
	ListGuests(ctx context.Context, ownerID int64, status string) ([]domain.GuestView, error)
	ListRooms(ctx context.Context, ownerID int64) ([]domain.Room, error)
	AddRoom(ctx context.Context, ownerID int64, req *domain.AddRoomRequest) (*domain.Room, error)
	Redeem(ctx context.Context, req *domain.GuestLoginRequest) (*domain.GuestSession, error)
	// Sweep discards drafts nobody redeemed within the draft TTL and
	// expired rate limit windows. It returns the number of drafts removed.
	Sweep(ctx context.Context) (int, error)
}

type guestService struct {
	owners   repository.OwnerRepository
	rooms    repository.RoomRepository
	guests   repository.GuestRepository
	limits   repository.RateLimitRepository
	eventBus events.Publisher
	config   *config.Config
	now      func() time.Time
}

func NewGuestService(
	owners repository.OwnerRepository,
	rooms repository.RoomRepository,
	guests repository.GuestRepository,
	limits repository.RateLimitRepository,
	eventBus events.Publisher,
	config *config.Config,
) GuestService {
	return &guestService{
		owners:   owners,
		rooms:    rooms,
		guests:   guests,
		limits:   limits,
		eventBus: eventBus,
		config:   config,
		now:      time.Now,
	}
}

func (s *guestService) CreateDraft(ctx context.Context, ownerID int64, req *domain.CreateGuestRequest) (*domain.CreateGuestResponse, error) {
	req.Normalize()
	departure, err := req.Validate(s.now())
	if err != nil {
		return nil, err
	}

	owner, err := s.owners.FindByID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find owner: %w", err)
	}
	if owner == nil {
		return nil, ErrInvalidToken
	}

	count, err := s.guests.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count guests: %w", err)
	}
	if count >= owner.GuestLimit(s.config.Guests.HomePlanLimit, s.config.Guests.BusinessPlanLimit) {
		return nil, ErrGuestLimit
	}

	roomIDs := req.RoomIDs()
	owned, err := s.rooms.CountOwned(ctx, ownerID, roomIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check rooms: %w", err)
	}
	if owned != len(roomIDs) {
		return nil, ErrUnknownRoom
	}

	var guest *domain.Guest
	for attempt := 0; attempt < 3; attempt++ {
		code, err := uniqueCode(ctx, s.guests.CodeExists)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate guest code: %w", err)
		}
		guest, err = s.guests.CreateDraft(ctx, &domain.Guest{
			OwnerID:       ownerID,
			FullName:      req.Name,
			HouseID:       owner.HouseID,
			AccessCode:    code,
			DepartureDate: departure,
			RoomIDs:       roomIDs,
		})
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create guest: %w", err)
		}
		break
	}
	if guest == nil {
		return nil, fmt.Errorf("failed to create guest: code collisions")
	}

	ctx = logger.WithGuest(ctx, fmt.Sprint(guest.ID))
	logger.InfoContext(ctx, "Guest draft created", "owner_id", ownerID)
	s.publish(ctx, events.GuestDraftCreated, events.GuestDraftCreatedEvent{
		GuestID:       guest.ID,
		OwnerID:       ownerID,
		HouseID:       guest.HouseID,
		AllowedRooms:  roomIDs,
		DepartureDate: departure.Format(domain.DateLayout),
		CreatedAt:     guest.CreatedAt,
	})

	return &domain.CreateGuestResponse{
		GuestID:   guest.ID,
		GuestCode: guest.AccessCode,
		HouseID:   guest.HouseID,
	}, nil
}

func (s *guestService) CheckVerification(ctx context.Context, ownerID, guestID int64) (*domain.VerificationResponse, error) {
	guest, err := s.guests.FindByID(ctx, ownerID, guestID)
	if err != nil {
		return nil, fmt.Errorf("failed to find guest: %w", err)
	}
	if guest == nil {
		return nil, ErrGuestNotFound
	}
	resp := &domain.VerificationResponse{}
	if guest.Verified {
		resp.Verified = 1
	}
	return resp, nil
}

func (s *guestService) DeleteUnverified(ctx context.Context, ownerID, guestID int64) (*domain.DeleteResponse, error) {
	guest, err := s.guests.FindByID(ctx, ownerID, guestID)
	if err != nil {
		return nil, fmt.Errorf("failed to find guest: %w", err)
	}
	if guest == nil {
		return nil, ErrGuestNotFound
	}
	if guest.Verified {
		return &domain.DeleteResponse{Status: domain.DeleteStatusVerified}, nil
	}

	deleted, err := s.guests.DeleteUnverified(ctx, ownerID, guestID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete guest: %w", err)
	}
	ctx = logger.WithGuest(ctx, fmt.Sprint(guestID))
	if !deleted {
		// Redeemed or swept between the lookup and the delete.
		again, err := s.guests.FindByID(ctx, ownerID, guestID)
		if err == nil && again != nil && again.Verified {
			return &domain.DeleteResponse{Status: domain.DeleteStatusVerified}, nil
		}
		logger.DebugContext(ctx, "Unverified guest already gone", "owner_id", ownerID)
		return &domain.DeleteResponse{Status: domain.DeleteStatusDeleted}, nil
	}

	logger.InfoContext(ctx, "Unverified guest deleted", "owner_id", ownerID)
	s.publish(ctx, events.GuestDraftDiscarded, events.GuestDraftDiscardedEvent{
		GuestID:     guestID,
		OwnerID:     ownerID,
		Reason:      "expired",
		DiscardedAt: s.now(),
	})
	return &domain.DeleteResponse{Status: domain.DeleteStatusDeleted}, nil
}

func (s *guestService) ListGuests(ctx context.Context, ownerID int64, status string) ([]domain.GuestView, error) {
	var verified *bool
	switch status {
	case "", FilterActive:
		v := true
		verified = &v
	case FilterPending:
		v := false
		verified = &v
	case FilterAll:
	default:
		return nil, &domain.ValidationError{Field: "status", Message: "must be active, pending or all"}
	}

	guests, err := s.guests.ListByOwner(ctx, ownerID, verified)
	if err != nil {
		return nil, fmt.Errorf("failed to list guests: %w", err)
	}
	views := make([]domain.GuestView, len(guests))
	for i := range guests {
		views[i] = guests[i].View()
	}
	return views, nil
}

func (s *guestService) ListRooms(ctx context.Context, ownerID int64) ([]domain.Room, error) {
	rooms, err := s.rooms.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

func (s *guestService) AddRoom(ctx context.Context, ownerID int64, req *domain.AddRoomRequest) (*domain.Room, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	room, err := s.rooms.Create(ctx, ownerID, req.RoomName)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrRoomExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	s.publish(ctx, events.RoomAdded, events.RoomAddedEvent{RoomID: room.ID, OwnerID: ownerID, Name: room.Name})
	return room, nil
}

func (s *guestService) Redeem(ctx context.Context, req *domain.GuestLoginRequest) (*domain.GuestSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	houseID, code := string(req.HouseID), string(req.GuestCode)

	allowed, err := s.limits.Allow(ctx, "guest_login:"+houseID, s.config.Guests.RedeemAttempts, s.config.Guests.RedeemWindow)
	if err != nil {
		// Fail open; the per-IP limiter still applies.
		logger.ErrorContext(ctx, "Rate limit check failed", "error", err)
	} else if !allowed {
		logger.WarnContext(ctx, "Guest login attempts exceeded", "house_id", houseID)
		return nil, ErrTooManyAttempts
	}

	now := s.now()
	guest, err := s.guests.Redeem(ctx, houseID, code, now)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem guest code: %w", err)
	}
	if guest == nil {
		return nil, ErrInvalidCode
	}

	token, err := auth.NewGuestSession(guest.ID, guest.HouseID, s.config.Auth.JWTSecret, s.sessionTTL(guest, now))
	if err != nil {
		return nil, fmt.Errorf("failed to issue guest session: %w", err)
	}

	ctx = logger.WithGuest(ctx, fmt.Sprint(guest.ID))
	logger.InfoContext(ctx, "Guest code redeemed", "owner_id", guest.OwnerID)
	s.publish(ctx, events.GuestVerified, events.GuestVerifiedEvent{
		GuestID:    guest.ID,
		OwnerID:    guest.OwnerID,
		VerifiedAt: now,
	})

	return &domain.GuestSession{AccessToken: token, Redirect: guestDashboard}, nil
}

// sessionTTL never lets a guest session outlive the departure day.
func (s *guestService) sessionTTL(g *domain.Guest, now time.Time) time.Duration {
	ttl := s.config.Auth.GuestSessionTTL
	y, m, d := g.DepartureDate.Date()
	endOfStay := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	if left := endOfStay.Sub(now); left < ttl {
		ttl = left
	}
	return ttl
}

func (s *guestService) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.Guests.DraftTTL)
	stale, err := s.guests.DeleteStaleUnverified(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale drafts: %w", err)
	}
	for _, g := range stale {
		s.publish(ctx, events.GuestDraftDiscarded, events.GuestDraftDiscardedEvent{
			GuestID:     g.ID,
			OwnerID:     g.OwnerID,
			Reason:      "stale",
			DiscardedAt: s.now(),
		})
	}
	if len(stale) > 0 {
		logger.InfoContext(ctx, "Stale guest drafts discarded", "count", len(stale))
	}

	if n, err := s.limits.CleanupExpired(ctx); err != nil {
		logger.WarnContext(ctx, "Failed to clean up rate limits", "error", err)
	} else if n > 0 {
		logger.DebugContext(ctx, "Expired rate limits removed", "count", n)
	}
	return len(stale), nil
}

func (s *guestService) publish(ctx context.Context, subject string, payload any) {
	if err := s.eventBus.Publish(ctx, subject, payload); err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}
