package handler

import (
	"pairwave/backend/internal/allocator"
	"pairwave/backend/internal/relay"

	"go.uber.org/zap"
)

// Handler carries the service dependencies of the HTTP surface.
type Handler struct {
	Allocator     *allocator.Service
	Notifications relay.Notifications
	Signals       relay.Signals
	Presence      relay.Presence
	JWTSecret     []byte
	Logger        *zap.Logger
}

func NewHandler(alloc *allocator.Service, notifications relay.Notifications, signals relay.Signals, presence relay.Presence, jwtSecret []byte, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Allocator:     alloc,
		Notifications: notifications,
		Signals:       signals,
		Presence:      presence,
		JWTSecret:     jwtSecret,
		Logger:        logger,
	}
}
