package storage

import (
	"context"

	"pairwave/backend/internal/models"
)

// InsertNotification stores a match announcement for a user.
func (s *Service) InsertNotification(ctx context.Context, n *models.Notification) error {
	return s.DB.WithContext(ctx).Create(n).Error
}

// ListNotifications returns every undelivered announcement for a user,
// oldest first.
func (s *Service) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	var rows []models.Notification
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&rows).Error
	return rows, err
}

// DeleteNotification consumes a single announcement by id.
func (s *Service) DeleteNotification(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.Notification{}).Error
}

// PurgeNotifications drops everything still addressed to a user. Used by
// startup and teardown cleanup; callers treat failures as non-fatal.
func (s *Service) PurgeNotifications(ctx context.Context, userID string) error {
	return s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.Notification{}).Error
}

// InsertSignal stores a negotiation message addressed to one participant
// of a room.
func (s *Service) InsertSignal(ctx context.Context, sig *models.Signal) error {
	return s.DB.WithContext(ctx).Create(sig).Error
}

// ListSignals returns the pending negotiation messages for a recipient in
// a room, oldest first.
func (s *Service) ListSignals(ctx context.Context, roomID, recipientID string) ([]models.Signal, error) {
	var rows []models.Signal
	err := s.DB.WithContext(ctx).
		Where("room_id = ? AND recipient_id = ?", roomID, recipientID).
		Order("created_at asc").
		Find(&rows).Error
	return rows, err
}

// DeleteSignal consumes a single negotiation message by id.
func (s *Service) DeleteSignal(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.Signal{}).Error
}

// PurgeSignals drops every message still addressed to a recipient across
// all rooms. Best-effort teardown cleanup.
func (s *Service) PurgeSignals(ctx context.Context, recipientID string) error {
	return s.DB.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Delete(&models.Signal{}).Error
}
