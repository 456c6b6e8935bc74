// Command simulate runs the whole matchmaking core in one process: two
// sessions over the in-memory store, bus and relays, with real pion peer
// connections negotiating over loopback. It is a smoke test for the
// pairing, signaling and presence flow without Postgres or Redis.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"pairwave/backend/internal/allocator"
	"pairwave/backend/internal/config"
	"pairwave/backend/internal/models"
	"pairwave/backend/internal/relay"
	"pairwave/backend/internal/rtc"
	"pairwave/backend/internal/session"
	"pairwave/backend/internal/storage"

	"go.uber.org/zap"
)

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := storage.NewMemStore()
	bus := relay.NewMemoryBus()
	notifications := relay.NewNotificationMailbox(store, bus, log)
	signals := relay.NewSignalMailbox(store, bus, log)
	presence := relay.NewPresenceService(relay.NewMemoryMemberSet(), bus, log)
	alloc := allocator.NewService(store, notifications, config.WaitingTTL, log)

	peers := rtc.NewPionFactory(nil)

	alice := newParticipant(ctx, "alice", alloc, notifications, signals, presence, peers, log)
	bob := newParticipant(ctx, "bob", alloc, notifications, signals, presence, peers, log)

	if err := alice.session.Initialize(ctx); err != nil {
		fatal(log, "alice initialize", err)
	}
	if err := bob.session.Initialize(ctx); err != nil {
		fatal(log, "bob initialize", err)
	}

	// Alice searches first and waits in the pool; Bob's request claims her.
	if err := alice.session.StartChat(ctx, models.Preferences{Interests: []string{"music", "travel"}}); err != nil {
		fatal(log, "alice start chat", err)
	}
	if err := bob.session.StartChat(ctx, models.Preferences{Interests: []string{"music"}}); err != nil {
		fatal(log, "bob start chat", err)
	}

	if err := alice.awaitState(ctx, session.StateConnected); err != nil {
		fatal(log, "alice never connected", err)
	}
	if err := bob.awaitState(ctx, session.StateConnected); err != nil {
		fatal(log, "bob never connected", err)
	}
	log.Info("both sessions connected")

	if err := alice.session.HangUp(ctx, false); err != nil {
		fatal(log, "alice hang up", err)
	}
	if err := alice.awaitState(ctx, session.StateIdle); err != nil {
		fatal(log, "alice never returned to idle", err)
	}

	fmt.Println("simulation complete")
}

type participant struct {
	session *session.Session
	states  chan session.State
}

func newParticipant(ctx context.Context, userID string, alloc *allocator.Service, notifications relay.Notifications, signals relay.Signals, presence relay.Presence, peers rtc.Factory, log *zap.Logger) *participant {
	s := session.New(session.Config{
		UserID:        userID,
		Matchmaker:    alloc,
		Notifications: notifications,
		Signals:       signals,
		Presence:      presence,
		Peers:         peers,
		Media:         rtc.NewPionMedia(),
		Logger:        log,
	})
	p := &participant{session: s, states: make(chan session.State, 32)}
	go s.Run(ctx)
	go func() {
		for ev := range s.Events() {
			log.Info("session event",
				zap.String("user_id", userID),
				zap.String("kind", string(ev.Kind)),
				zap.String("state", string(ev.State)))
			if ev.Kind == session.EventState {
				select {
				case p.states <- ev.State:
				default:
				}
			}
		}
	}()
	return p
}

func (p *participant) awaitState(ctx context.Context, want session.State) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state := <-p.states:
			if state == want {
				return nil
			}
			if state == session.StateError {
				return fmt.Errorf("session entered ERROR while waiting for %s", want)
			}
		}
	}
}

func fatal(log *zap.Logger, msg string, err error) {
	log.Error(msg, zap.Error(err))
	os.Exit(1)
}
