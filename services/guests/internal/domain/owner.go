package domain

import (
	"regexp"
	"strings"
	"time"
)

const (
	PlanHome     = "home"
	PlanBusiness = "business"
)

type Owner struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	PasswordHash string    `json:"-"`
	PlanType     string    `json:"plan_type"`
	HouseID      string    `json:"house_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// GuestLimit is how many guests the owner's plan allows.
func (o *Owner) GuestLimit(home, business int) int {
	if o.PlanType == PlanHome {
		return home
	}
	return business
}

type SignupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FirstName       string `json:"first_name"`
	PlanType        string `json:"plan_type"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

type SignupResponse struct {
	Message string `json:"message"`
	Owner   *Owner `json:"owner"`
}

// ValidationError names the first invalid field of a request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func (r *SignupRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.PlanType = strings.ToLower(strings.TrimSpace(r.PlanType))
	if r.PlanType == "" {
		r.PlanType = PlanHome
	}
}

func (r *SignupRequest) Validate() error {
	if r.Email == "" {
		return invalid("email", "is required")
	}
	if !isValidEmailFormat(r.Email) {
		return invalid("email", "invalid email format")
	}
	if len(r.Password) < 8 {
		return invalid("password", "must be at least 8 characters")
	}
	if r.Password != r.ConfirmPassword {
		return invalid("confirm_password", "passwords do not match")
	}
	if r.PlanType != PlanHome && r.PlanType != PlanBusiness {
		return invalid("plan_type", "must be home or business")
	}
	return nil
}

func (r *LoginRequest) Normalize() {
	r.Username = strings.ToLower(strings.TrimSpace(r.Username))
}

func (r *LoginRequest) Validate() error {
	if r.Username == "" {
		return invalid("username", "is required")
	}
	if r.Password == "" {
		return invalid("password", "is required")
	}
	return nil
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func isValidEmailFormat(email string) bool {
	return emailRegex.MatchString(email)
}
