// Package allocator implements the matchmaking core: an atomic two-party
// pairing operation over the durable waiting pool, plus the periodic sweep
// that evicts stale pool entries.
package allocator

import (
	"context"
	"fmt"
	"time"

	"pairwave/backend/internal/config"
	"pairwave/backend/internal/models"
	"pairwave/backend/internal/relay"
	"pairwave/backend/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service pairs a requester with a waiting user or enqueues the requester.
type Service struct {
	store         storage.Storage
	notifications relay.Notifications
	ttl           time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

// NewService builds the allocator. ttl <= 0 falls back to the default
// waiting-pool TTL.
func NewService(store storage.Storage, notifications relay.Notifications, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = config.WaitingTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:         store,
		notifications: notifications,
		ttl:           ttl,
		now:           time.Now,
		logger:        logger,
	}
}

// RequestMatch either pairs the requester with a compatible waiting user
// or enqueues the requester. Exactly one of two concurrent requesters can
// claim the same waiting entry; the loser enqueues. The requester that
// finds a partner becomes the offer creator and learns the room inline;
// the claimed user learns it through its notification mailbox.
func (s *Service) RequestMatch(ctx context.Context, requesterID string, prefs models.Preferences) (models.MatchResult, error) {
	if requesterID == "" {
		return models.MatchResult{}, fmt.Errorf("request match: empty requester id")
	}

	cutoff := s.now().Add(-s.ttl)
	claimed, err := s.store.ClaimPartner(ctx, requesterID, prefs, cutoff)
	if err != nil {
		return models.MatchResult{}, fmt.Errorf("claim partner: %w", err)
	}

	if claimed == nil {
		entry := &models.WaitingEntry{
			UserID:      requesterID,
			Preferences: prefs,
			EnqueuedAt:  s.now(),
		}
		if err := s.store.UpsertWaitingEntry(ctx, entry); err != nil {
			return models.MatchResult{}, fmt.Errorf("enqueue requester: %w", err)
		}
		return models.MatchResult{Status: models.MatchStatusWaiting}, nil
	}

	roomID := "room_" + uuid.New().String()
	payload := models.MatchPayload{RoomID: roomID, PartnerID: requesterID}
	if err := s.notifications.Publish(ctx, claimed.UserID, payload); err != nil {
		// The claim already removed the partner from the pool. Put the
		// entry back so the waiting user is not silently dropped, then
		// surface the failure to the requester.
		restored := *claimed
		if restoreErr := s.store.UpsertWaitingEntry(ctx, &restored); restoreErr != nil {
			s.logger.Error("failed to restore claimed entry after notify failure",
				zap.String("user_id", claimed.UserID), zap.Error(restoreErr))
		}
		return models.MatchResult{}, fmt.Errorf("notify partner: %w", err)
	}

	s.logger.Info("match allocated",
		zap.String("room_id", roomID),
		zap.String("requester_id", requesterID),
		zap.String("partner_id", claimed.UserID))

	return models.MatchResult{
		Status:    models.MatchStatusMatched,
		RoomID:    roomID,
		PartnerID: claimed.UserID,
	}, nil
}

// CancelSearch removes the caller's waiting entry, if any. Best-effort;
// used when a client stops searching.
func (s *Service) CancelSearch(ctx context.Context, userID string) error {
	return s.store.DeleteWaitingEntry(ctx, userID)
}
