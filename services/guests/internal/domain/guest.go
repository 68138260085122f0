package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

const (
	StatusActive  = "active"
	StatusPending = "pending"
)

// ErrPastDeparture rejects a departure date before today.
var ErrPastDeparture = &ValidationError{Field: "departure_date", Message: "must not be in the past"}

type Room struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"-"`
	Name    string `json:"name"`
}

type AddRoomRequest struct {
	RoomName string `json:"room_name"`
}

func (r *AddRoomRequest) Normalize() {
	r.RoomName = strings.TrimSpace(r.RoomName)
}

func (r *AddRoomRequest) Validate() error {
	if r.RoomName == "" {
		return invalid("room_name", "is required")
	}
	if len(r.RoomName) > 100 {
		return invalid("room_name", "must be at most 100 characters")
	}
	return nil
}

// Guest is a stored guest. Verified flips once, when the code is redeemed.
type Guest struct {
	ID            int64
	OwnerID       int64
	FullName      string
	HouseID       string
	AccessCode    string
	DepartureDate time.Time
	Verified      bool
	RoomIDs       []int64
	RoomNames     []string
	CreatedAt     time.Time
	VerifiedAt    *time.Time
}

// GuestView is a guest as listed to its owner.
type GuestView struct {
	ID            string   `json:"id"`
	FullName      string   `json:"full_name"`
	DepartureDate string   `json:"departure_date"`
	AccessCode    string   `json:"access_code"`
	AllowedRooms  []string `json:"allowed_rooms"`
	Status        string   `json:"status"`
}

func (g *Guest) View() GuestView {
	status := StatusPending
	if g.Verified {
		status = StatusActive
	}
	rooms := g.RoomNames
	if rooms == nil {
		rooms = []string{}
	}
	return GuestView{
		ID:            strconv.FormatInt(g.ID, 10),
		FullName:      g.FullName,
		DepartureDate: g.DepartureDate.Format(DateLayout),
		AccessCode:    g.AccessCode,
		AllowedRooms:  rooms,
		Status:        status,
	}
}

type CreateGuestRequest struct {
	Name          string   `json:"name"`
	DepartureDate string   `json:"departure_date"`
	AllowedRooms  []FlexID `json:"allowed_rooms"`
}

func (r *CreateGuestRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.DepartureDate = strings.TrimSpace(r.DepartureDate)

	seen := make(map[FlexID]bool, len(r.AllowedRooms))
	rooms := r.AllowedRooms[:0:0]
	for _, id := range r.AllowedRooms {
		if seen[id] {
			continue
		}
		seen[id] = true
		rooms = append(rooms, id)
	}
	r.AllowedRooms = rooms
}

// Validate checks the request and returns the parsed departure date.
func (r *CreateGuestRequest) Validate(today time.Time) (time.Time, error) {
	if r.Name == "" {
		return time.Time{}, invalid("name", "is required")
	}
	if r.DepartureDate == "" {
		return time.Time{}, invalid("departure_date", "is required")
	}
	d, err := time.ParseInLocation(DateLayout, r.DepartureDate, today.Location())
	if err != nil {
		return time.Time{}, invalid("departure_date", "must be YYYY-MM-DD")
	}
	y, m, day := today.Date()
	if d.Before(time.Date(y, m, day, 0, 0, 0, 0, today.Location())) {
		return time.Time{}, ErrPastDeparture
	}
	if len(r.AllowedRooms) == 0 {
		return time.Time{}, invalid("allowed_rooms", "select at least one room")
	}
	return d, nil
}

func (r *CreateGuestRequest) RoomIDs() []int64 {
	ids := make([]int64, len(r.AllowedRooms))
	for i, id := range r.AllowedRooms {
		ids[i] = int64(id)
	}
	return ids
}

type CreateGuestResponse struct {
	GuestID   int64  `json:"guestId"`
	GuestCode string `json:"guestCode"`
	HouseID   string `json:"houseId"`
}

type GuestRef struct {
	GuestID FlexID `json:"guest_id"`
}

type VerificationResponse struct {
	Verified int `json:"verified"`
}

type DeleteResponse struct {
	Status string `json:"status"`
}

const (
	DeleteStatusDeleted  = "deleted"
	DeleteStatusVerified = "verified"
)

type GuestLoginRequest struct {
	GuestCode FlexString `json:"guestCode"`
	HouseID   FlexString `json:"houseId"`
}

func (r *GuestLoginRequest) Validate() error {
	if strings.TrimSpace(string(r.GuestCode)) == "" {
		return invalid("guestCode", "is required")
	}
	if strings.TrimSpace(string(r.HouseID)) == "" {
		return invalid("houseId", "is required")
	}
	return nil
}

type GuestSession struct {
	AccessToken string `json:"access_token"`
	Redirect    string `json:"redirect"`
}

// FlexID is a numeric id sent either as a JSON number or a numeric string.
type FlexID int64

func (id *FlexID) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(b), `"`))
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("id must be numeric, got %s", b)
	}
	*id = FlexID(n)
	return nil
}

// FlexString accepts a JSON string or number; codes have been sent as both.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("must be a string or number, got %s", b)
	}
	*s = FlexString(n.String())
	return nil
}
