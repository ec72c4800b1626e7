package application

import "errors"

var (
	// ErrProfileNotFound is returned when a connection profile is not found
	ErrProfileNotFound = errors.New("connection profile not found")

	// ErrSessionNotFound is returned when a session id is not registered
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotTerminal is returned when an operation needs a stopped
	// session but the session is still running
	ErrSessionNotTerminal = errors.New("session has not stopped yet")

	// ErrProfileOffline is returned when a profile's cluster is unreachable
	ErrProfileOffline = errors.New("cluster is offline")
)
