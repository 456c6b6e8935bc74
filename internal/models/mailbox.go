package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSON is a raw JSON document stored in a jsonb column.
type JSON json.RawMessage

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSON(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// Notification is the one-shot match announcement mailbox row. It is
// created by the allocator for the user who was already waiting and is
// deleted by that user immediately after being read. Redelivery is
// possible; consumers must treat duplicates as no-ops.
type Notification struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"index" json:"user_id"`
	Payload   JSON      `gorm:"type:jsonb" json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return
}

// Signal is a session-negotiation mailbox row scoped to a room and
// addressed to one participant. Deleted by the recipient on receipt.
type Signal struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	RoomID      string    `gorm:"index" json:"room_id"`
	RecipientID string    `gorm:"index" json:"recipient_id"`
	Payload     JSON      `gorm:"type:jsonb" json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Signal) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return
}
