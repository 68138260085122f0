// Package guestaccess issues guest access codes and follows each one until
// the guest redeems it or the owner's five-minute window runs out.
package guestaccess

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// Guest list statuses.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusExpired = "expired"
)

// ID is an opaque backend identifier. The API has sent ids, codes and house
// ids both as JSON strings and as numbers; ID accepts either.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number, got %s", b)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Verification is the backend's verified flag. 0 is pending and 1 is
// verified. Any other value is kept as received so a state the client does
// not know about is never mistaken for one it does.
type Verification int

const (
	VerificationPending  Verification = 0
	VerificationVerified Verification = 1
	// VerificationUnknown marks a flag that was not an integer or boolean.
	VerificationUnknown Verification = -1
)

func (v Verification) IsVerified() bool { return v == VerificationVerified }
func (v Verification) IsPending() bool  { return v == VerificationPending }

func (v Verification) String() string {
	switch v {
	case VerificationPending:
		return "pending"
	case VerificationVerified:
		return "verified"
	default:
		return "unrecognized(" + strconv.Itoa(int(v)) + ")"
	}
}

func (v *Verification) UnmarshalJSON(b []byte) error {
	switch s := string(bytes.TrimSpace(b)); s {
	case "true":
		*v = VerificationVerified
	case "false":
		*v = VerificationPending
	default:
		s = strings.Trim(s, `"`)
		n, err := strconv.Atoi(s)
		if err != nil {
			*v = VerificationUnknown
			return nil
		}
		*v = Verification(n)
	}
	return nil
}

// Draft is an issued, not yet redeemed access code and its scope.
type Draft struct {
	GuestID       ID        `json:"guest_id"`
	AccessCode    ID        `json:"access_code"`
	HouseID       ID        `json:"house_id"`
	Name          string    `json:"name"`
	DepartureDate string    `json:"departure_date"`
	AllowedRooms  []string  `json:"allowed_rooms"`
	IssuedAt      time.Time `json:"issued_at"`
}

// PendingDraft is what survives a restart: the draft plus its absolute deadline.
type PendingDraft struct {
	Draft    Draft     `json:"draft"`
	Deadline time.Time `json:"deadline"`
}

// NewGuest is the owner's input for a new access code.
type NewGuest struct {
	Name          string
	DepartureDate time.Time
	AllowedRooms  []string
}

// ValidationError lists the invalid fields of a NewGuest.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid guest: " + strings.Join(parts, "; ")
}

// Normalize trims the name, drops blank and repeated rooms and strips the
// time of day from the departure date.
func (g *NewGuest) Normalize() {
	g.Name = strings.TrimSpace(g.Name)

	seen := make(map[string]bool, len(g.AllowedRooms))
	rooms := g.AllowedRooms[:0:0]
	for _, r := range g.AllowedRooms {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		rooms = append(rooms, r)
	}
	g.AllowedRooms = rooms

	if !g.DepartureDate.IsZero() {
		g.DepartureDate = startOfDay(g.DepartureDate)
	}
}

// Validate checks a normalized NewGuest against today's date.
func (g *NewGuest) Validate(now time.Time) error {
	fields := map[string]string{}
	if g.Name == "" {
		fields["name"] = "is required"
	}
	if g.DepartureDate.IsZero() {
		fields["departure_date"] = "is required"
	} else if g.DepartureDate.Before(startOfDay(now.In(g.DepartureDate.Location()))) {
		fields["departure_date"] = "must not be in the past"
	}
	if len(g.AllowedRooms) == 0 {
		fields["allowed_rooms"] = "select at least one room"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ParseDate reads a YYYY-MM-DD departure date in the local time zone.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("departure date must look like %s: %w", DateLayout, err)
	}
	return d, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Guest is one row of the owner's guest list.
type Guest struct {
	ID            ID       `json:"id"`
	FullName      string   `json:"full_name"`
	Email         string   `json:"email,omitempty"`
	DepartureDate string   `json:"departure_date"`
	AccessCode    ID       `json:"access_code"`
	AllowedRooms  []string `json:"allowed_rooms"`
	Status        string   `json:"status,omitempty"`
}

type Room struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}
