package guestaccess

import (
	"context"
	"fmt"

	"github.com/aetherhome/aether/pkg/apiclient"
)

// API is the slice of the Aether backend the guest flow needs.
type API interface {
	CreateDraft(ctx context.Context, g NewGuest) (*Draft, error)
	CheckVerification(ctx context.Context, guestID ID) (Verification, error)
	DeleteUnverified(ctx context.Context, guestID ID) (string, error)
	ListGuests(ctx context.Context, opts ListOptions) ([]Guest, error)
}

// ListOptions filters the guest list.
type ListOptions struct {
	Status string `url:"status,omitempty"`
}

// HTTPAPI implements API (plus the room and redemption calls) over the
// shared apiclient, so every call gets the same token refresh policy.
type HTTPAPI struct {
	client *apiclient.Client
}

func NewHTTPAPI(client *apiclient.Client) *HTTPAPI {
	return &HTTPAPI{client: client}
}

type createDraftRequest struct {
	Name          string   `json:"name"`
	DepartureDate string   `json:"departure_date"`
	AllowedRooms  []string `json:"allowed_rooms"`
}

type createDraftResponse struct {
	GuestID   ID `json:"guestId"`
	GuestCode ID `json:"guestCode"`
	HouseID   ID `json:"houseId"`
}

func (a *HTTPAPI) CreateDraft(ctx context.Context, g NewGuest) (*Draft, error) {
	req := createDraftRequest{
		Name:          g.Name,
		DepartureDate: g.DepartureDate.Format(DateLayout),
		AllowedRooms:  g.AllowedRooms,
	}
	var resp createDraftResponse
	if err := a.client.Post(ctx, "/create_incomplete_guest/", req, &resp); err != nil {
		return nil, err
	}
	if resp.GuestID == "" || resp.GuestCode == "" {
		return nil, fmt.Errorf("create guest: response is missing guestId or guestCode")
	}
	return &Draft{
		GuestID:       resp.GuestID,
		AccessCode:    resp.GuestCode,
		HouseID:       resp.HouseID,
		Name:          g.Name,
		DepartureDate: req.DepartureDate,
		AllowedRooms:  g.AllowedRooms,
	}, nil
}

type guestIDRequest struct {
	GuestID ID `json:"guest_id"`
}

func (a *HTTPAPI) CheckVerification(ctx context.Context, guestID ID) (Verification, error) {
	var resp struct {
		Verified *Verification `json:"verified"`
	}
	if err := a.client.Post(ctx, "/check_guest_verification/", guestIDRequest{GuestID: guestID}, &resp); err != nil {
		return VerificationUnknown, err
	}
	if resp.Verified == nil {
		return VerificationUnknown, nil
	}
	return *resp.Verified, nil
}

// DeleteUnverified asks the backend to drop the draft. It returns the
// backend's status: "deleted", or "verified" when the guest got in first.
func (a *HTTPAPI) DeleteUnverified(ctx context.Context, guestID ID) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := a.client.Post(ctx, "/delete_unverified_guest/", guestIDRequest{GuestID: guestID}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (a *HTTPAPI) ListGuests(ctx context.Context, opts ListOptions) ([]Guest, error) {
	var resp struct {
		Guests []Guest `json:"guests"`
	}
	if err := a.client.Get(ctx, "/my_guests/", opts, &resp); err != nil {
		return nil, err
	}
	return resp.Guests, nil
}

func (a *HTTPAPI) ListRooms(ctx context.Context) ([]Room, error) {
	var resp struct {
		Rooms []Room `json:"rooms"`
	}
	if err := a.client.Get(ctx, "/get_rooms/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (a *HTTPAPI) AddRoom(ctx context.Context, name string) (*Room, error) {
	var room Room
	if err := a.client.Post(ctx, "/add_room/", map[string]string{"room_name": name}, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// GuestSession is what a guest receives after redeeming a code.
type GuestSession struct {
	AccessToken string `json:"access_token"`
	Redirect    string `json:"redirect"`
}

// Redeem is the guest side of the flow: it trades a code and house id for a
// guest session, which flips the draft to verified on the backend.
func (a *HTTPAPI) Redeem(ctx context.Context, code, houseID string) (*GuestSession, error) {
	var s GuestSession
	body := map[string]string{"guestCode": code, "houseId": houseID}
	if err := a.client.PostPublic(ctx, "/guest_login/", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Signup registers an owner account.
func (a *HTTPAPI) Signup(ctx context.Context, req SignupRequest) error {
	return a.client.PostPublic(ctx, "/signup/", req, nil)
}

type SignupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FirstName       string `json:"first_name"`
	PlanType        string `json:"plan_type"`
}
