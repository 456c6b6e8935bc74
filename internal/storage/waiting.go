package storage

import (
	"context"
	"errors"
	"time"

	"pairwave/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimQuery selects one compatible waiting entry and locks it. Gender
// filters are evaluated symmetrically: the candidate's filter must accept
// the requester's gender and vice versa. Interests and location only rank
// eligible candidates. SKIP LOCKED keeps two concurrent requesters from
// claiming the same row.
const claimQuery = `
SELECT user_id, gender, gender_filter, interests, country, city, enqueued_at
FROM waiting_entries
WHERE user_id <> @requester
  AND enqueued_at > @cutoff
  AND (gender_filter = 'any' OR gender_filter = @gender)
  AND (@filter = 'any' OR gender = @filter)
ORDER BY
  (SELECT count(*) FROM unnest(interests) AS tag WHERE tag = ANY(@interests::text[])) DESC,
  (CASE WHEN @country <> '' AND country = @country THEN 1 ELSE 0 END) DESC,
  enqueued_at ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`

// UpsertWaitingEntry inserts the entry or replaces an existing one for the
// same user, refreshing preferences and the enqueue timestamp.
func (s *Service) UpsertWaitingEntry(ctx context.Context, entry *models.WaitingEntry) error {
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(entry).Error
}

// DeleteWaitingEntry removes a user's entry, if any.
func (s *Service) DeleteWaitingEntry(ctx context.Context, userID string) error {
	return s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.WaitingEntry{}).Error
}

// ClaimPartner executes the atomic step of RequestMatch: inside one
// transaction it finds a compatible entry not older than the cutoff,
// removes it, and removes any stale entry of the requester itself. Returns
// nil when nobody compatible is waiting.
func (s *Service) ClaimPartner(ctx context.Context, requesterID string, prefs models.Preferences, cutoff time.Time) (*models.WaitingEntry, error) {
	var claimed *models.WaitingEntry

	filter := prefs.GenderFilter
	if filter == "" {
		filter = models.GenderAny
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.WaitingEntry
		err := tx.Raw(claimQuery,
			map[string]interface{}{
				"requester": requesterID,
				"cutoff":    cutoff,
				"gender":    prefs.Gender,
				"filter":    filter,
				"interests": prefs.Interests,
				"country":   prefs.Country,
			}).Scan(&entry).Error
		if err != nil {
			return err
		}
		if entry.UserID == "" {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Where("user_id = ?", entry.UserID).Delete(&models.WaitingEntry{}).Error; err != nil {
			return err
		}
		// A requester re-entering after a stale search must not stay behind
		// in the pool once matched.
		if err := tx.Where("user_id = ?", requesterID).Delete(&models.WaitingEntry{}).Error; err != nil {
			return err
		}

		claimed = &entry
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// EvictWaitingBefore deletes waiting entries older than the cutoff and
// returns how many rows went away. Rows locked by an in-flight claim are
// skipped by the claim transaction itself, so the sweep can use a plain
// delete.
func (s *Service) EvictWaitingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("enqueued_at <= ?", cutoff).
		Delete(&models.WaitingEntry{})
	return res.RowsAffected, res.Error
}
