package handlers

import (
	"net/http"

	"github.com/aetherhome/aether/pkg/response"
	"github.com/aetherhome/aether/services/guests/internal/domain"
)

// Signup registers an owner and allocates their house id.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req domain.SignupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	owner, err := h.authService.Signup(r.Context(), &req)
	if err != nil {
		fail(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, domain.SignupResponse{
		Message: "Signup successful",
		Owner:   owner,
	})
}

// Login trades owner credentials for an access and refresh token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req domain.RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Refresh == "" {
		response.BadRequest(w, "refresh is required")
		return
	}

	pair, err := h.authService.Refresh(r.Context(), req.Refresh)
	if err != nil {
		fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, pair)
}
