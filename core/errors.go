package core

import "errors"

var (
	ErrTokenExpired         = errors.New("token has expired")
	ErrInvalidToken         = errors.New("invalid token")
	ErrInvalidSigningMethod = errors.New("unexpected signing method")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionInactive      = errors.New("session is inactive")
	ErrInvalidAccount       = errors.New("invalid account address")
	ErrLedgerUnavailable    = errors.New("replay ledger unavailable")
)
