package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aetherhome/aether/pkg/auth"
	"github.com/aetherhome/aether/pkg/config"
	"github.com/aetherhome/aether/pkg/logger"
	"github.com/aetherhome/aether/pkg/response"
	"github.com/aetherhome/aether/services/guests/internal/domain"
	"github.com/aetherhome/aether/services/guests/internal/service"
)

type Handlers struct {
	authService  service.AuthService
	guestService service.GuestService
	config       *config.Config
}

func New(authService service.AuthService, guestService service.GuestService, config *config.Config) *Handlers {
	return &Handlers{
		authService:  authService,
		guestService: guestService,
		config:       config,
	}
}

// Routes mounts every endpoint. loginLimit wraps the public guest login.
func (h *Handlers) Routes(loginLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/signup/", h.Signup)
	r.Post("/api/token/", h.Login)
	r.Post("/api/token/refresh/", h.Refresh)
	r.With(loginLimit).Post("/guest_login/", h.GuestLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireJWT(auth.RoleOwner))
		r.Post("/create_incomplete_guest/", h.CreateIncompleteGuest)
		r.Post("/check_guest_verification/", h.CheckGuestVerification)
		r.Post("/delete_unverified_guest/", h.DeleteUnverifiedGuest)
		r.Get("/my_guests/", h.MyGuests)
		r.Get("/get_rooms/", h.GetRooms)
		r.Post("/add_room/", h.AddRoom)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", response.CodeMethodNotAllow)
	})
	return r
}

type ctxKey int

const claimsKey ctxKey = iota

// RequireJWT admits requests carrying a valid access token for requiredRole.
func (h *Handlers) RequireJWT(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Unauthorized(w, "Missing or invalid authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.ParseAs(token, h.config.Auth.JWTSecret, auth.TokenAccess)
			if errors.Is(err, auth.ErrTokenExpired) {
				response.WriteError(w, http.StatusUnauthorized, "Token expired", response.CodeExpiredToken)
				return
			}
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "Invalid token", response.CodeInvalidToken)
				return
			}

			if requiredRole != "" && claims.Role != requiredRole {
				response.Forbidden(w, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), logger.UserIDKey, claims.Sub)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return false
	}
	return true
}

// fail maps a service error onto the response body and status.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrPastDeparture):
		response.WriteErrorWithDetails(w, http.StatusBadRequest, domain.ErrPastDeparture.Message, response.CodePastDeparture, domain.ErrPastDeparture.Field)
	case errors.As(err, &verr):
		response.WriteErrorWithDetails(w, http.StatusBadRequest, verr.Message, response.CodeInvalidInput, verr.Field)
	case errors.Is(err, service.ErrEmailTaken):
		response.Conflict(w, err.Error(), response.CodeEmailExists)
	case errors.Is(err, service.ErrRoomExists):
		response.Conflict(w, err.Error(), response.CodeConflict)
	case errors.Is(err, service.ErrGuestLimit):
		response.Conflict(w, err.Error(), response.CodeGuestLimit)
	case errors.Is(err, service.ErrUnknownRoom):
		response.WriteError(w, http.StatusBadRequest, err.Error(), response.CodeUnknownRoom)
	case errors.Is(err, service.ErrGuestNotFound):
		response.NotFound(w, "Guest not found")
	case errors.Is(err, service.ErrInvalidCredentials):
		response.WriteError(w, http.StatusUnauthorized, err.Error(), response.CodeAuthFailed)
	case errors.Is(err, service.ErrInvalidToken):
		response.WriteError(w, http.StatusUnauthorized, err.Error(), response.CodeInvalidToken)
	case errors.Is(err, service.ErrInvalidCode):
		response.WriteError(w, http.StatusUnauthorized, err.Error(), response.CodeInvalidCode)
	case errors.Is(err, service.ErrTooManyAttempts):
		response.RateLimit(w, err.Error())
	default:
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		response.InternalError(w, "Internal server error")
	}
}
