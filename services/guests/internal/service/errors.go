package service

import "errors"

var (
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrGuestLimit         = errors.New("guest limit reached for this plan")
	ErrGuestNotFound      = errors.New("guest not found")
	ErrUnknownRoom        = errors.New("one or more rooms do not belong to this house")
	ErrRoomExists         = errors.New("a room with this name already exists")
	ErrInvalidCode        = errors.New("invalid guest code or house id")
	ErrTooManyAttempts    = errors.New("too many attempts, try again later")
)
