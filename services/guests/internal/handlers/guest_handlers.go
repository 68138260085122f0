package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aetherhome/aether/pkg/logger"
	"github.com/aetherhome/aether/pkg/response"
	"github.com/aetherhome/aether/services/guests/internal/domain"
)

func (h *Handlers) CreateIncompleteGuest(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateGuestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.guestService.CreateDraft(r.Context(), getClaims(r).Sub, &req)
	if err != nil {
		fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handlers) CheckGuestVerification(w http.ResponseWriter, r *http.Request) {
	ref, ok := decodeGuestRef(w, r)
	if !ok {
		return
	}

	resp, err := h.guestService.CheckVerification(guestContext(r, ref), getClaims(r).Sub, int64(ref.GuestID))
	if err != nil {
		fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, resp)
}

// DeleteUnverifiedGuest removes a draft unless it was redeemed first.
func (h *Handlers) DeleteUnverifiedGuest(w http.ResponseWriter, r *http.Request) {
	ref, ok := decodeGuestRef(w, r)
	if !ok {
		return
	}

	resp, err := h.guestService.DeleteUnverified(guestContext(r, ref), getClaims(r).Sub, int64(ref.GuestID))
	if err != nil {
		fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handlers) MyGuests(w http.ResponseWriter, r *http.Request) {
	guests, err := h.guestService.ListGuests(r.Context(), getClaims(r).Sub, r.URL.Query().Get("status"))
	if err != nil {
		fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"guests": guests})
}

func (h *Handlers) GetRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.guestService.ListRooms(r.Context(), getClaims(r).Sub)
	if err != nil {
		fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (h *Handlers) AddRoom(w http.ResponseWriter, r *http.Request) {
	var req domain.AddRoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	room, err := h.guestService.AddRoom(r.Context(), getClaims(r).Sub, &req)
	if err != nil {
		fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, room)
}

// GuestLogin redeems a guest code. It is public; the guest has no account.
func (h *Handlers) GuestLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.GuestLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.guestService.Redeem(r.Context(), &req)
	if err != nil {
		fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, session)
}

func decodeGuestRef(w http.ResponseWriter, r *http.Request) (domain.GuestRef, bool) {
	var ref domain.GuestRef
	if !decodeJSON(w, r, &ref) {
		return ref, false
	}
	if ref.GuestID <= 0 {
		response.BadRequest(w, "guest_id is required")
		return ref, false
	}
	return ref, true
}

func guestContext(r *http.Request, ref domain.GuestRef) context.Context {
	return logger.WithGuest(r.Context(), fmt.Sprint(int64(ref.GuestID)))
}
