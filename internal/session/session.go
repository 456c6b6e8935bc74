// Package session implements the client-side orchestrator of one video
// chat: a state machine that requests pairings, exchanges negotiation
// messages over the relay mailboxes, drives the peer-connection
// capability, and owns the timeout/teardown/reconnect policy.
//
// All mutable state is owned by a single event-loop goroutine. Public
// methods and relay/peer callbacks post commands to the loop, so
// interleaved asynchronous events are serialized and guarded by the
// current state, room tag and attempt epoch.
package session

import (
	"context"
	"time"

	"pairwave/backend/internal/config"
	"pairwave/backend/internal/models"
	"pairwave/backend/internal/relay"
	"pairwave/backend/internal/rtc"

	"go.uber.org/zap"
)

// State is the externally observable session state.
type State string

const (
	StateIdle          State = "IDLE"
	StateAwaitingMedia State = "AWAITING_MEDIA"
	StateSearching     State = "SEARCHING"
	StateConnecting    State = "CONNECTING"
	StateConnected     State = "CONNECTED"
	StateError         State = "ERROR"
)

// EventKind tags an entry on the session event stream.
type EventKind string

const (
	EventState         EventKind = "state"
	EventRemoteTrack   EventKind = "remote_track"
	EventRemoteCleared EventKind = "remote_cleared"
)

// Event is what external observers receive instead of bespoke callbacks:
// state changes, remote media arrival, and remote media teardown.
type Event struct {
	Kind  EventKind
	State State
	Track rtc.RemoteTrack
	Err   error
}

// Matchmaker is the allocator RPC consumed by the session. In-process
// deployments pass the allocator service directly; remote ones an HTTP
// client.
type Matchmaker interface {
	RequestMatch(ctx context.Context, requesterID string, prefs models.Preferences) (models.MatchResult, error)
	CancelSearch(ctx context.Context, userID string) error
}

// Config wires a session. UserID, Matchmaker, Notifications, Signals,
// Presence, Peers and Media are required.
type Config struct {
	UserID        string
	Matchmaker    Matchmaker
	Notifications relay.Notifications
	Signals       relay.Signals
	Presence      relay.Presence
	Peers         rtc.Factory
	Media         rtc.Media

	// AutoRequeue decides, when the partner is lost or the watchdog
	// fires, whether to immediately search again (true) or return to
	// idle. Nil means return to idle.
	AutoRequeue func() bool

	// WatchdogDeadline bounds how long CONNECTING may last. Zero means
	// the default.
	WatchdogDeadline time.Duration

	Logger *zap.Logger
}

// Session is one user's chat orchestrator. Construct with New, start the
// loop with Run, then drive it through Initialize/StartChat/HangUp.
type Session struct {
	cfg      Config
	deadline time.Duration
	logger   *zap.Logger

	cmds    chan func()
	events  chan Event
	stopped chan struct{}

	// Loop-owned state. Never touched outside the Run goroutine.
	ctx            context.Context
	state          State
	stream         *rtc.LocalStream
	searchSub      *relay.Subscription
	attempt        *attempt
	epoch          uint64
	declaredGender string
}

// attempt is the per-pairing state, recreated on every joinRoom and
// discarded on teardown. The epoch ties asynchronous callbacks to the
// attempt they were issued for.
type attempt struct {
	epoch        uint64
	roomID       string
	partnerID    string
	offerCreator bool

	pc         rtc.PeerConnection
	sigSub     *relay.Subscription
	membership *relay.Membership
	watchdog   *time.Timer

	candidates      []models.SignalPayload
	remoteSet       bool
	expectingAnswer bool
	offerSent       bool
	partnerPresent  bool
	policyFired     bool
}

// New builds a session. Run must be started before any other method is
// used.
func New(cfg Config) *Session {
	deadline := cfg.WatchdogDeadline
	if deadline <= 0 {
		deadline = config.WatchdogDeadline
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:      cfg,
		deadline: deadline,
		logger:   logger.With(zap.String("user_id", cfg.UserID)),
		cmds:     make(chan func(), 128),
		events:   make(chan Event, 64),
		stopped:  make(chan struct{}),
		state:    StateIdle,
	}
}

// Events returns the observer stream. Slow observers lose events rather
// than blocking the state machine.
func (s *Session) Events() <-chan Event { return s.events }

// Run executes the event loop until ctx ends, then tears everything down
// including the shared local media.
func (s *Session) Run(ctx context.Context) {
	s.ctx = ctx
	defer close(s.stopped)
	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.cmds:
			fn()
		}
	}
}

// Initialize purges stale personal relay state from a previous run,
// acquires the shared local media, and settles in IDLE. Media failure is
// fatal to the session.
func (s *Session) Initialize(ctx context.Context) error {
	return s.do(ctx, s.initialize)
}

// StartChat begins a search with the given preferences. Valid from IDLE
// only.
func (s *Session) StartChat(ctx context.Context, prefs models.Preferences) error {
	return s.do(ctx, func() error { return s.startChat(prefs) })
}

// HangUp ends the current pairing attempt, cleans up relay state, and
// either immediately re-enters the search with neutral preferences
// (reconnect) or returns to IDLE.
func (s *Session) HangUp(ctx context.Context, reconnect bool) error {
	return s.do(ctx, func() error { return s.hangUp(reconnect) })
}

// ToggleMute flips the local audio track. No state transition, no
// renegotiation.
func (s *Session) ToggleMute(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.stream != nil && s.stream.Audio != nil {
			s.stream.Audio.SetEnabled(!s.stream.Audio.Enabled())
		}
		return nil
	})
}

// ToggleVideo flips the local video track.
func (s *Session) ToggleVideo(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.stream != nil && s.stream.Video != nil {
			s.stream.Video.SetEnabled(!s.stream.Video.Enabled())
		}
		return nil
	})
}

// State reports the current state.
func (s *Session) State(ctx context.Context) (State, error) {
	var st State
	err := s.do(ctx, func() error {
		st = s.state
		return nil
	})
	return st, err
}

// do runs fn inside the loop and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case s.cmds <- func() { errCh <- fn() }:
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues an asynchronous event for the loop; dropped if the session
// already stopped.
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.stopped:
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("dropping session event", zap.String("kind", string(ev.Kind)))
	}
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.emit(Event{Kind: EventState, State: state})
}
