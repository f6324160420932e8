package models

import "errors"

// Sentinel errors shared by every layer; match them with errors.Is.
var (
	// ErrInvalidPhone indicates fewer than 10 digits remain after stripping
	ErrInvalidPhone = errors.New("invalid phone")

	// ErrInvalidInput indicates a malformed or incomplete payload
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates a missing or unknown bearer token
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the actor may not touch this record
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the id is absent from the active backend
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a duplicate phone on creation
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition indicates a status change outside the lifecycle
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrBackendUnavailable indicates the remote probe failed at startup
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrTimeout indicates a remote call exceeded its deadline; safe to retry
	ErrTimeout = errors.New("backend timeout")
)
