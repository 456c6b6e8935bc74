// Package relay implements the store-and-forward mailboxes and the
// ephemeral presence channels that carry match announcements and
// session-negotiation messages between matched participants.
//
// A mailbox row is durable and delivered at least once: Subscribe first
// replays rows that already exist, then streams rows inserted afterwards,
// so a publish racing the subscription establishment is never lost.
// Consumption is deletion; consumers must tolerate redelivery.
package relay

import (
	"context"
	"encoding/json"
	"sync"

	"pairwave/backend/internal/models"
)

// Message is one mailbox row as seen by a subscriber.
type Message struct {
	ID      string
	Payload json.RawMessage
}

// Subscription is a live stream of mailbox messages. Close releases the
// underlying bus subscription and closes the Messages channel.
type Subscription struct {
	ch        chan Message
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// Messages returns the inbound stream. The channel is closed by Close or
// when the subscription's context ends.
func (s *Subscription) Messages() <-chan Message { return s.ch }

// Close tears the subscription down. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() { s.cancel() })
}

// Notifications is the one-shot per-user mailbox announcing a match to the
// participant who was already waiting.
type Notifications interface {
	Publish(ctx context.Context, userID string, payload models.MatchPayload) error
	Subscribe(ctx context.Context, userID string) (*Subscription, error)
	Consume(ctx context.Context, id string) error
	Purge(ctx context.Context, userID string) error
}

// Signals is the per-room per-recipient mailbox carrying offer/answer/
// candidate messages between the two matched participants.
type Signals interface {
	Publish(ctx context.Context, roomID, recipientID string, payload models.SignalPayload) error
	Subscribe(ctx context.Context, roomID, recipientID string) (*Subscription, error)
	Consume(ctx context.Context, id string) error
	Purge(ctx context.Context, recipientID string) error
}

// PresenceKind tags a presence event.
type PresenceKind string

const (
	PresenceJoin  PresenceKind = "join"
	PresenceLeave PresenceKind = "leave"
)

// PresenceEvent is a membership change on a presence channel. Members that
// were already attached when Join was called are replayed as join events.
type PresenceEvent struct {
	Kind     PresenceKind `json:"event"`
	MemberID string       `json:"member_id"`
}

// Membership is one member's attachment to a presence channel.
type Membership struct {
	events    chan PresenceEvent
	leaveOnce sync.Once
	leave     func()
}

// Events returns the stream of join/leave events for the channel, own
// events excluded.
func (m *Membership) Events() <-chan PresenceEvent { return m.events }

// Leave detaches from the channel and announces the departure. Safe to
// call more than once.
func (m *Membership) Leave() {
	m.leaveOnce.Do(m.leave)
}

// Presence is the ephemeral membership broadcast used to detect that both
// participants have attached to a room before negotiation begins.
type Presence interface {
	Join(ctx context.Context, channelID, memberID string) (*Membership, error)
}
