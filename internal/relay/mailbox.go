package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pairwave/backend/internal/models"
	"pairwave/backend/internal/storage"

	"go.uber.org/zap"
)

// pollInterval is the slow fallback re-scan of the mailbox rows. The bus
// wake is the fast path; the ticker keeps a subscriber alive when a wake
// is lost, which also lets a long-poll transport satisfy the interface.
const pollInterval = 2 * time.Second

const (
	notifyTopicPrefix = "mailbox:notify:"
	signalTopicPrefix = "mailbox:signal:"
)

// NotificationMailbox is the durable Notifications relay: rows in the
// notifications table, wakeups on the bus.
type NotificationMailbox struct {
	store  storage.Storage
	bus    Bus
	logger *zap.Logger
}

// Compile-time interface checks.
var (
	_ Notifications = (*NotificationMailbox)(nil)
	_ Signals       = (*SignalMailbox)(nil)
)

// NewNotificationMailbox builds the notification relay.
func NewNotificationMailbox(store storage.Storage, bus Bus, logger *zap.Logger) *NotificationMailbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationMailbox{store: store, bus: bus, logger: logger}
}

func (m *NotificationMailbox) Publish(ctx context.Context, userID string, payload models.MatchPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode match payload: %w", err)
	}
	n := &models.Notification{UserID: userID, Payload: models.JSON(raw)}
	if err := m.store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if err := m.bus.Publish(ctx, notifyTopicPrefix+userID, raw); err != nil {
		// The row is durable; the subscriber's poll fallback will pick it up.
		m.logger.Warn("notification wake failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

func (m *NotificationMailbox) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	return subscribe(ctx, m.bus, notifyTopicPrefix+userID, m.logger, func(ctx context.Context) ([]Message, error) {
		rows, err := m.store.ListNotifications(ctx, userID)
		if err != nil {
			return nil, err
		}
		out := make([]Message, 0, len(rows))
		for _, row := range rows {
			out = append(out, Message{ID: row.ID, Payload: json.RawMessage(row.Payload)})
		}
		return out, nil
	})
}

func (m *NotificationMailbox) Consume(ctx context.Context, id string) error {
	return m.store.DeleteNotification(ctx, id)
}

func (m *NotificationMailbox) Purge(ctx context.Context, userID string) error {
	return m.store.PurgeNotifications(ctx, userID)
}

// SignalMailbox is the durable Signals relay: rows in the signals table
// keyed by room and recipient, wakeups on the bus.
type SignalMailbox struct {
	store  storage.Storage
	bus    Bus
	logger *zap.Logger
}

// NewSignalMailbox builds the signaling relay.
func NewSignalMailbox(store storage.Storage, bus Bus, logger *zap.Logger) *SignalMailbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalMailbox{store: store, bus: bus, logger: logger}
}

func (m *SignalMailbox) Publish(ctx context.Context, roomID, recipientID string, payload models.SignalPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode signal payload: %w", err)
	}
	sig := &models.Signal{RoomID: roomID, RecipientID: recipientID, Payload: models.JSON(raw)}
	if err := m.store.InsertSignal(ctx, sig); err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	if err := m.bus.Publish(ctx, signalTopic(roomID, recipientID), raw); err != nil {
		m.logger.Warn("signal wake failed", zap.String("room_id", roomID), zap.Error(err))
	}
	return nil
}

func (m *SignalMailbox) Subscribe(ctx context.Context, roomID, recipientID string) (*Subscription, error) {
	return subscribe(ctx, m.bus, signalTopic(roomID, recipientID), m.logger, func(ctx context.Context) ([]Message, error) {
		rows, err := m.store.ListSignals(ctx, roomID, recipientID)
		if err != nil {
			return nil, err
		}
		out := make([]Message, 0, len(rows))
		for _, row := range rows {
			out = append(out, Message{ID: row.ID, Payload: json.RawMessage(row.Payload)})
		}
		return out, nil
	})
}

func (m *SignalMailbox) Consume(ctx context.Context, id string) error {
	return m.store.DeleteSignal(ctx, id)
}

func (m *SignalMailbox) Purge(ctx context.Context, recipientID string) error {
	return m.store.PurgeSignals(ctx, recipientID)
}

func signalTopic(roomID, recipientID string) string {
	return signalTopicPrefix + roomID + ":" + recipientID
}

// subscribe attaches to the wake topic first and only then replays the
// rows already present, so a publish landing between the two steps is seen
// either in the replay or through the wake, never dropped.
func subscribe(ctx context.Context, bus Bus, topic string, logger *zap.Logger, list func(context.Context) ([]Message, error)) (*Subscription, error) {
	busSub, err := bus.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{ch: make(chan Message, 16), cancel: cancel}

	go func() {
		defer close(sub.ch)
		defer func() {
			if err := busSub.Close(); err != nil {
				logger.Warn("bus subscription close failed", zap.String("topic", topic), zap.Error(err))
			}
		}()

		seen := make(map[string]bool)
		emit := func() {
			rows, err := list(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					logger.Warn("mailbox scan failed", zap.String("topic", topic), zap.Error(err))
				}
				return
			}
			for _, row := range rows {
				if seen[row.ID] {
					continue
				}
				seen[row.ID] = true
				select {
				case sub.ch <- row:
				case <-subCtx.Done():
					return
				}
			}
		}

		emit()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-busSub.Payloads():
				if !ok {
					return
				}
				emit()
			case <-ticker.C:
				emit()
			}
		}
	}()

	return sub, nil
}
