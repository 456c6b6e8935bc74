package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pairwave/backend/internal/models"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Storage = (*MemStore)(nil)

// MemStore is an in-process Storage for tests and the simulation harness.
// A single mutex makes every operation serializable, which is the same
// guarantee the SQL implementation gets from its claim transaction.
type MemStore struct {
	mu            sync.Mutex
	waiting       map[string]models.WaitingEntry
	notifications map[string]models.Notification
	signals       map[string]models.Signal
	now           func() time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		waiting:       make(map[string]models.WaitingEntry),
		notifications: make(map[string]models.Notification),
		signals:       make(map[string]models.Signal),
		now:           time.Now,
	}
}

func (m *MemStore) UpsertWaitingEntry(_ context.Context, entry *models.WaitingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting[entry.UserID] = *entry
	return nil
}

func (m *MemStore) DeleteWaitingEntry(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waiting, userID)
	return nil
}

func (m *MemStore) ClaimPartner(_ context.Context, requesterID string, prefs models.Preferences, cutoff time.Time) (*models.WaitingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filter := prefs.GenderFilter
	if filter == "" {
		filter = models.GenderAny
	}

	var candidates []models.WaitingEntry
	for id, entry := range m.waiting {
		if id == requesterID {
			continue
		}
		if !entry.EnqueuedAt.After(cutoff) {
			continue
		}
		theirFilter := entry.Preferences.GenderFilter
		if theirFilter == "" {
			theirFilter = models.GenderAny
		}
		if theirFilter != models.GenderAny && theirFilter != prefs.Gender {
			continue
		}
		if filter != models.GenderAny && entry.Preferences.Gender != filter {
			continue
		}
		candidates = append(candidates, entry)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		oi, oj := interestOverlap(prefs.Interests, candidates[i].Preferences.Interests), interestOverlap(prefs.Interests, candidates[j].Preferences.Interests)
		if oi != oj {
			return oi > oj
		}
		li, lj := locationScore(prefs, candidates[i].Preferences), locationScore(prefs, candidates[j].Preferences)
		if li != lj {
			return li > lj
		}
		return candidates[i].EnqueuedAt.Before(candidates[j].EnqueuedAt)
	})
	claimed := candidates[0]

	delete(m.waiting, claimed.UserID)
	delete(m.waiting, requesterID)

	return &claimed, nil
}

func (m *MemStore) EvictWaitingBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var evicted int64
	for id, entry := range m.waiting {
		if !entry.EnqueuedAt.After(cutoff) {
			delete(m.waiting, id)
			evicted++
		}
	}
	return evicted, nil
}

func (m *MemStore) InsertNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now()
	}
	m.notifications[n.ID] = *n
	return nil
}

func (m *MemStore) ListNotifications(_ context.Context, userID string) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			rows = append(rows, n)
		}
	}
	sortByCreated(rows, func(n models.Notification) time.Time { return n.CreatedAt })
	return rows, nil
}

func (m *MemStore) DeleteNotification(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notifications, id)
	return nil
}

func (m *MemStore) PurgeNotifications(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.notifications {
		if n.UserID == userID {
			delete(m.notifications, id)
		}
	}
	return nil
}

func (m *MemStore) InsertSignal(_ context.Context, sig *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = m.now()
	}
	m.signals[sig.ID] = *sig
	return nil
}

func (m *MemStore) ListSignals(_ context.Context, roomID, recipientID string) ([]models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.Signal
	for _, sig := range m.signals {
		if sig.RoomID == roomID && sig.RecipientID == recipientID {
			rows = append(rows, sig)
		}
	}
	sortByCreated(rows, func(s models.Signal) time.Time { return s.CreatedAt })
	return rows, nil
}

func (m *MemStore) DeleteSignal(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.signals, id)
	return nil
}

func (m *MemStore) PurgeSignals(_ context.Context, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sig := range m.signals {
		if sig.RecipientID == recipientID {
			delete(m.signals, id)
		}
	}
	return nil
}

// WaitingCount reports the current pool size. Test helper.
func (m *MemStore) WaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}

func interestOverlap(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, tag := range a {
		set[tag] = struct{}{}
	}
	overlap := 0
	for _, tag := range b {
		if _, ok := set[tag]; ok {
			overlap++
		}
	}
	return overlap
}

func locationScore(a, b models.Preferences) int {
	score := 0
	if a.Country != "" && a.Country == b.Country {
		score++
	}
	if a.City != "" && a.City == b.City {
		score++
	}
	return score
}

func sortByCreated[T any](rows []T, created func(T) time.Time) {
	sort.SliceStable(rows, func(i, j int) bool {
		return created(rows[i]).Before(created(rows[j]))
	})
}
