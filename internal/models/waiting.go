package models

import (
	"time"

	"github.com/lib/pq"
)

// GenderAny matches every partner regardless of declared gender.
const GenderAny = "any"

// Preferences carries what a user declares about themselves and what they
// want in a partner. Gender filters are hard constraints and are evaluated
// symmetrically by the allocator; interests and location are soft affinity
// used only to rank otherwise-eligible candidates.
type Preferences struct {
	Gender       string         `json:"gender"`
	GenderFilter string         `json:"genderFilter"`
	Interests    pq.StringArray `gorm:"type:text[]" json:"interests"`
	Country      string         `json:"country"`
	City         string         `json:"city"`
}

// Neutral returns the unfiltered preference set: no declared gender, no
// partner filter.
func Neutral() Preferences {
	return Preferences{GenderFilter: GenderAny}
}

// NeutralFor returns the preference set used when re-queuing after a skip:
// the partner filter is dropped but the declared gender is kept, so the
// re-queued user stays claimable by partners with a concrete filter.
func NeutralFor(gender string) Preferences {
	return Preferences{Gender: gender, GenderFilter: GenderAny}
}

// WaitingEntry is one row of the waiting pool: a user currently seeking a
// partner. At most one live entry exists per user; a repeated search
// replaces the previous entry. Entries older than the waiting TTL are
// swept out and must never be matched.
type WaitingEntry struct {
	UserID      string      `gorm:"primaryKey" json:"user_id"`
	Preferences Preferences `gorm:"embedded" json:"preferences"`
	EnqueuedAt  time.Time   `gorm:"index" json:"enqueued_at"`
}
