package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInsufficientData = errors.New("insufficient data")
	ErrUnavailable      = errors.New("unavailable")
	ErrUnknownExchange  = errors.New("unknown exchange")
	ErrWSDisconnect     = errors.New("websocket disconnected")
)
