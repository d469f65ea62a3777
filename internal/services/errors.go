package services

import "errors"

// Terminal error taxonomy surfaced to callers. None of these are retried
// internally; the handler layer maps them to HTTP status codes.
var (
	// ErrUnauthenticated means no resolvable caller identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound covers missing records and non-membership alike, so a
	// non-participant cannot distinguish "does not exist" from "not
	// yours".
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied means the target exists but the action is
	// restricted to a specific actor.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidArgument covers empty bodies and malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
