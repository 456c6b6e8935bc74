package storage

import (
	"context"
	"time"

	"pairwave/backend/internal/models"

	"gorm.io/gorm"
)

// Storage is the durable state behind the allocator and the mailboxes.
// The production implementation is PostgreSQL via GORM; tests use the
// in-memory implementation in memstore.go.
type Storage interface {
	// Waiting pool
	UpsertWaitingEntry(ctx context.Context, entry *models.WaitingEntry) error
	DeleteWaitingEntry(ctx context.Context, userID string) error
	ClaimPartner(ctx context.Context, requesterID string, prefs models.Preferences, cutoff time.Time) (*models.WaitingEntry, error)
	EvictWaitingBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Notification mailbox
	InsertNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]models.Notification, error)
	DeleteNotification(ctx context.Context, id string) error
	PurgeNotifications(ctx context.Context, userID string) error

	// Signaling mailbox
	InsertSignal(ctx context.Context, sig *models.Signal) error
	ListSignals(ctx context.Context, roomID, recipientID string) ([]models.Signal, error)
	DeleteSignal(ctx context.Context, id string) error
	PurgeSignals(ctx context.Context, recipientID string) error
}

// Service implements Storage on top of PostgreSQL.
type Service struct {
	DB *gorm.DB
}

// NewService wraps an open GORM connection.
func NewService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// Migrate creates the waiting pool and mailbox tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.WaitingEntry{},
		&models.Notification{},
		&models.Signal{},
	)
}
