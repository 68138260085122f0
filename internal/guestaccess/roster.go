package guestaccess

import (
	"context"
	"sync"
	"time"
)

// Roster is the client's copy of the guest list. Issued drafts are added
// optimistically as pending; Refresh replaces everything with the backend's
// list.
type Roster struct {
	api API

	mu        sync.RWMutex
	guests    []Guest
	refreshed time.Time
}

func NewRoster(api API) *Roster {
	return &Roster{api: api}
}

// AddPending adds the draft as a pending guest, replacing any row with the
// same id.
func (r *Roster) AddPending(d Draft) {
	g := Guest{
		ID:            d.GuestID,
		FullName:      d.Name,
		DepartureDate: d.DepartureDate,
		AccessCode:    d.AccessCode,
		AllowedRooms:  append([]string(nil), d.AllowedRooms...),
		Status:        StatusPending,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.guests {
		if r.guests[i].ID == d.GuestID {
			r.guests[i] = g
			return
		}
	}
	r.guests = append(r.guests, g)
}

// Remove drops the pending row for id. Active rows stay until the next
// Refresh.
func (r *Roster) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.guests[:0]
	for _, g := range r.guests {
		if g.ID == id && g.Status == StatusPending {
			continue
		}
		kept = append(kept, g)
	}
	r.guests = kept
}

// Refresh reloads the list. The backend lists verified guests, so rows that
// arrive without a status are active.
func (r *Roster) Refresh(ctx context.Context) error {
	guests, err := r.api.ListGuests(ctx, ListOptions{})
	if err != nil {
		return err
	}
	for i := range guests {
		if guests[i].Status == "" {
			guests[i].Status = StatusActive
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.guests = guests
	r.refreshed = time.Now()
	return nil
}

// Guests returns a copy of the current list.
func (r *Roster) Guests() []Guest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Guest(nil), r.guests...)
}

func (r *Roster) Find(id ID) (Guest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.guests {
		if g.ID == id {
			return g, true
		}
	}
	return Guest{}, false
}

// RefreshedAt is the zero time until the first successful Refresh.
func (r *Roster) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshed
}
