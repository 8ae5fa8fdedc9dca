package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrPositionClosed     = errors.New("position closed")
	ErrBadCandle          = errors.New("candle integrity violation")
	ErrEmptyWindow        = errors.New("empty candle window")
	ErrStreamDisconnected = errors.New("fill stream disconnected")
	ErrVenueUnavailable   = errors.New("venue unavailable")
	ErrLockHeld           = errors.New("lock already held")
	ErrUnknownVenue       = errors.New("unknown venue")
	ErrInvalidOrder       = errors.New("invalid order parameters")
)
