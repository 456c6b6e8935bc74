package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"pairwave/backend/internal/allocator"
	"pairwave/backend/internal/models"
	"pairwave/backend/internal/relay"
	"pairwave/backend/internal/rtc"
	"pairwave/backend/internal/session"
	"pairwave/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fabric is the in-process deployment every session test runs against.
type fabric struct {
	store         *storage.MemStore
	bus           *relay.MemoryBus
	notifications *relay.NotificationMailbox
	signals       *relay.SignalMailbox
	presence      *relay.PresenceService
	allocator     *allocator.Service
}

func newFabric() *fabric {
	store := storage.NewMemStore()
	bus := relay.NewMemoryBus()
	notifications := relay.NewNotificationMailbox(store, bus, nil)
	signals := relay.NewSignalMailbox(store, bus, nil)
	return &fabric{
		store:         store,
		bus:           bus,
		notifications: notifications,
		signals:       signals,
		presence:      relay.NewPresenceService(relay.NewMemoryMemberSet(), bus, nil),
		allocator:     allocator.NewService(store, notifications, time.Minute, nil),
	}
}

// fakeTrack is a local media track double.
type fakeTrack struct {
	kind    string
	mu      sync.Mutex
	enabled bool
}

func (t *fakeTrack) Kind() string { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// fakeMedia hands out a stream with one audio and one video track.
type fakeMedia struct {
	err error
}

func (m *fakeMedia) Acquire(_ context.Context, _, _ bool) (*rtc.LocalStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &rtc.LocalStream{
		Audio: &fakeTrack{kind: "audio", enabled: true},
		Video: &fakeTrack{kind: "video", enabled: true},
	}, nil
}

// fakePeer is a scripted PeerConnection double. It records the negotiation
// operations in order and exposes the registered callbacks so tests can
// simulate ICE and connection-state activity.
type fakePeer struct {
	mu     sync.Mutex
	ops    []string
	tracks int
	closed bool

	onCandidate func(json.RawMessage)
	onState     func(rtc.ConnectionState)
	onTrack     func(rtc.RemoteTrack)
}

func (p *fakePeer) record(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, op)
}

func (p *fakePeer) operations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ops))
	copy(out, p.ops)
	return out
}

func (p *fakePeer) CreateOffer(context.Context) (string, error) {
	p.record("create-offer")
	return "offer-sdp", nil
}

func (p *fakePeer) CreateAnswer(context.Context) (string, error) {
	p.record("create-answer")
	return "answer-sdp", nil
}

func (p *fakePeer) SetRemoteDescription(kind rtc.DescriptionKind, sdp string) error {
	p.record("remote-" + string(kind) + ":" + sdp)
	return nil
}

func (p *fakePeer) AddICECandidate(candidate json.RawMessage) error {
	p.record("candidate:" + string(candidate))
	return nil
}

func (p *fakePeer) AddTrack(rtc.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(json.RawMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(rtc.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) OnRemoteTrack(fn func(rtc.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) fireState(state rtc.ConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (p *fakePeer) fireCandidate(candidate json.RawMessage) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

func (p *fakePeer) fireTrack(track rtc.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

// fakeFactory hands out fakePeers and remembers them in creation order.
type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeerConnection(context.Context) (rtc.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &fakePeer{}
	f.peers = append(f.peers, pc)
	return pc, nil
}

func (f *fakeFactory) latest() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

// MockMatchmaker is a handwritten testify mock for the allocator RPC.
type MockMatchmaker struct {
	mock.Mock
}

func (m *MockMatchmaker) RequestMatch(ctx context.Context, requesterID string, prefs models.Preferences) (models.MatchResult, error) {
	args := m.Called(ctx, requesterID, prefs)
	return args.Get(0).(models.MatchResult), args.Error(1)
}

func (m *MockMatchmaker) CancelSearch(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type participant struct {
	session *session.Session
	factory *fakeFactory
	cancel  context.CancelFunc
}

func startSession(t *testing.T, f *fabric, userID string, matchmaker session.Matchmaker, opts ...func(*session.Config)) *participant {
	t.Helper()
	factory := &fakeFactory{}
	cfg := session.Config{
		UserID:        userID,
		Matchmaker:    matchmaker,
		Notifications: f.notifications,
		Signals:       f.signals,
		Presence:      f.presence,
		Peers:         factory,
		Media:         &fakeMedia{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	sess := session.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go sess.Run(ctx)
	t.Cleanup(cancel)
	return &participant{session: sess, factory: factory, cancel: cancel}
}

func waitForState(t *testing.T, sess *session.Session, want session.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		state, err := sess.State(context.Background())
		require.NoError(t, err)
		if state == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	state, _ := sess.State(context.Background())
	t.Fatalf("session never reached %s, stuck in %s", want, state)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// signalsTo lists the pending signal payloads addressed to a recipient.
func signalsTo(t *testing.T, f *fabric, roomID, recipientID string) []models.SignalPayload {
	t.Helper()
	rows, err := f.store.ListSignals(context.Background(), roomID, recipientID)
	require.NoError(t, err)
	out := make([]models.SignalPayload, 0, len(rows))
	for _, row := range rows {
		var payload models.SignalPayload
		require.NoError(t, json.Unmarshal([]byte(row.Payload), &payload))
		out = append(out, payload)
	}
	return out
}

// TestInitializeAcquiresMediaAndSettlesIdle covers the startup sequence.
func TestInitializeAcquiresMediaAndSettlesIdle(t *testing.T) {
	f := newFabric()
	p := startSession(t, f, "alice", f.allocator)

	require.NoError(t, p.session.Initialize(context.Background()))

	state, err := p.session.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.StateIdle, state)
}

// TestInitializeMediaFailureIsFatal verifies a denied capture ends in ERROR.
func TestInitializeMediaFailureIsFatal(t *testing.T) {
	f := newFabric()
	p := startSession(t, f, "alice", f.allocator, func(cfg *session.Config) {
		cfg.Media = &fakeMedia{err: fmt.Errorf("permission denied")}
	})

	err := p.session.Initialize(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrMediaAcquisition)
	waitForState(t, p.session, session.StateError)
}

// TestInitializeWithoutIdentityFails covers the authentication guard.
func TestInitializeWithoutIdentityFails(t *testing.T) {
	f := newFabric()
	p := startSession(t, f, "", f.allocator)

	err := p.session.Initialize(context.Background())

	assert.ErrorIs(t, err, session.ErrAuthentication)
}

// TestStartChatRequiresIdle rejects a search from a non-IDLE state.
func TestStartChatRequiresIdle(t *testing.T) {
	f := newFabric()
	p := startSession(t, f, "alice", f.allocator)
	require.NoError(t, p.session.Initialize(context.Background()))
	require.NoError(t, p.session.StartChat(context.Background(), models.Neutral()))

	err := p.session.StartChat(context.Background(), models.Neutral())

	assert.ErrorIs(t, err, session.ErrInvalidTransition)
}

// TestStartChatAllocatorFailure verifies an allocator error ends in ERROR.
func TestStartChatAllocatorFailure(t *testing.T) {
	f := newFabric()
	matchmaker := new(MockMatchmaker)
	matchmaker.On("CancelSearch", mock.Anything, "alice").Return(nil)
	matchmaker.On("RequestMatch", mock.Anything, "alice", mock.Anything).
		Return(models.MatchResult{}, fmt.Errorf("backend down"))
	p := startSession(t, f, "alice", matchmaker)
	require.NoError(t, p.session.Initialize(context.Background()))

	err := p.session.StartChat(context.Background(), models.Neutral())

	assert.ErrorIs(t, err, session.ErrAllocator)
	waitForState(t, p.session, session.StateError)
}

// TestFullPairingFlow drives two sessions end to end: search, pairing
// through the allocator, presence-gated offer, answer, candidate exchange
// and the CONNECTED transition on both sides.
func TestFullPairingFlow(t *testing.T) {
	f := newFabric()
	ctx := context.Background()

	alice := startSession(t, f, "alice", f.allocator)
	bob := startSession(t, f, "bob", f.allocator)
	require.NoError(t, alice.session.Initialize(ctx))
	require.NoError(t, bob.session.Initialize(ctx))

	// Alice searches first and waits in the pool.
	require.NoError(t, alice.session.StartChat(ctx, models.Neutral()))
	waitForState(t, alice.session, session.StateSearching)

	// Bob's request claims her; both sides converge on CONNECTING.
	require.NoError(t, bob.session.StartChat(ctx, models.Neutral()))
	waitForState(t, bob.session, session.StateConnecting)
	waitForState(t, alice.session, session.StateConnecting)

	// Bob is the offer creator; once Alice's presence is observed the offer
	// reaches her peer connection and her answer reaches Bob's.
	waitFor(t, "offer applied on alice", func() bool {
		pc := alice.factory.latest()
		if pc == nil {
			return false
		}
		for _, op := range pc.operations() {
			if op == "remote-offer:offer-sdp" {
				return true
			}
		}
		return false
	})
	waitFor(t, "answer applied on bob", func() bool {
		pc := bob.factory.latest()
		if pc == nil {
			return false
		}
		for _, op := range pc.operations() {
			if op == "remote-answer:answer-sdp" {
				return true
			}
		}
		return false
	})

	// Trickle one candidate from bob to alice.
	bob.factory.latest().fireCandidate(json.RawMessage(`{"c":"bob-1"}`))
	waitFor(t, "candidate applied on alice", func() bool {
		for _, op := range alice.factory.latest().operations() {
			if op == `candidate:{"c":"bob-1"}` {
				return true
			}
		}
		return false
	})

	// Transport comes up.
	alice.factory.latest().fireState(rtc.StateConnected)
	bob.factory.latest().fireState(rtc.StateConnected)
	waitForState(t, alice.session, session.StateConnected)
	waitForState(t, bob.session, session.StateConnected)

	// Local tracks were bound into both peer connections.
	assert.Equal(t, 2, alice.factory.latest().tracks)
	assert.Equal(t, 2, bob.factory.latest().tracks)
}

// TestOfferDeferredUntilPartnerPresent verifies the offer creator holds the
// offer until the partner's presence join is observed.
func TestOfferDeferredUntilPartnerPresent(t *testing.T) {
	f := newFabric()
	ctx := context.Background()
	matchmaker := new(MockMatchmaker)
	matchmaker.On("CancelSearch", mock.Anything, "bob").Return(nil)
	matchmaker.On("RequestMatch", mock.Anything, "bob", mock.Anything).
		Return(models.MatchResult{Status: models.MatchStatusMatched, RoomID: "room_x", PartnerID: "alice"}, nil)

	bob := startSession(t, f, "bob", matchmaker)
	require.NoError(t, bob.session.Initialize(ctx))
	require.NoError(t, bob.session.StartChat(ctx, models.Neutral()))
	waitForState(t, bob.session, session.StateConnecting)

	// Partner not present yet: no offer may be sent.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, signalsTo(t, f, "room_x", "alice"), "offer must wait for partner presence")

	// The partner attaches to the room.
	membership, err := f.presence.Join(ctx, "room_x", "alice")
	require.NoError(t, err)
	defer membership.Leave()

	waitFor(t, "offer published to alice", func() bool {
		payloads := signalsTo(t, f, "room_x", "alice")
		return len(payloads) == 1 && payloads[0].Type == models.SignalOffer
	})

	// A second presence join for the same partner must not re-offer.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, signalsTo(t, f, "room_x", "alice"), 1)
}

// TestCandidatesBufferedUntilRemoteDescription publishes candidates before
// the offer and checks they are applied after it, in arrival order.
func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	f := newFabric()
	ctx := context.Background()

	alice := startSession(t, f, "alice", f.allocator)
	require.NoError(t, alice.session.Initialize(ctx))
	require.NoError(t, alice.session.StartChat(ctx, models.Neutral()))
	waitForState(t, alice.session, session.StateSearching)

	// Simulate the allocator pairing alice as the waiting side.
	require.NoError(t, f.notifications.Publish(ctx, "alice", models.MatchPayload{RoomID: "room_x", PartnerID: "bob"}))
	waitForState(t, alice.session, session.StateConnecting)

	// Candidates arrive before the offer.
	require.NoError(t, f.signals.Publish(ctx, "room_x", "alice", models.SignalPayload{Type: models.SignalCandidate, Candidate: json.RawMessage(`{"c":1}`)}))
	require.NoError(t, f.signals.Publish(ctx, "room_x", "alice", models.SignalPayload{Type: models.SignalCandidate, Candidate: json.RawMessage(`{"c":2}`)}))
	time.Sleep(100 * time.Millisecond)

	pc := alice.factory.latest()
	require.NotNil(t, pc)
	assert.Empty(t, pc.operations(), "nothing may touch the peer before the offer")

	require.NoError(t, f.signals.Publish(ctx, "room_x", "alice", models.SignalPayload{Type: models.SignalOffer, SDP: "offer-sdp"}))

	waitFor(t, "negotiation on alice", func() bool {
		return len(pc.operations()) >= 4
	})
	assert.Equal(t, []string{
		"remote-offer:offer-sdp",
		`candidate:{"c":1}`,
		`candidate:{"c":2}`,
		"create-answer",
	}, pc.operations())

	// A replayed duplicate offer is discarded: still exactly one answer.
	require.NoError(t, f.signals.Publish(ctx, "room_x", "alice", models.SignalPayload{Type: models.SignalOffer, SDP: "offer-sdp"}))
	time.Sleep(100 * time.Millisecond)
	answers := 0
	for _, payload := range signalsTo(t, f, "room_x", "bob") {
		if payload.Type == models.SignalAnswer {
			answers++
		}
	}
	assert.Equal(t, 1, answers)
}

// TestWatchdogReturnsToIdle verifies the connection deadline tears a stuck
// attempt down and lands in IDLE when requeueing is off.
func TestWatchdogReturnsToIdle(t *testing.T) {
	f := newFabric()
	ctx := context.Background()
	matchmaker := new(MockMatchmaker)
	matchmaker.On("CancelSearch", mock.Anything, "bob").Return(nil)
	matchmaker.On("RequestMatch", mock.Anything, "bob", mock.Anything).
		Return(models.MatchResult{Status: models.MatchStatusMatched, RoomID: "room_x", PartnerID: "alice"}, nil)

	bob := startSession(t, f, "bob", matchmaker, func(cfg *session.Config) {
		cfg.WatchdogDeadline = 50 * time.Millisecond
	})
	require.NoError(t, bob.session.Initialize(ctx))
	require.NoError(t, bob.session.StartChat(ctx, models.Neutral()))

	waitForState(t, bob.session, session.StateIdle)
	waitFor(t, "peer connection closed", func() bool {
		return bob.factory.latest().isClosed()
	})
}

// TestWatchdogRequeuesWhenPolicySaysSo verifies the auto-requeue policy
// restarts the search with neutral preferences.
func TestWatchdogRequeuesWhenPolicySaysSo(t *testing.T) {
	f := newFabric()
	ctx := context.Background()
	matchmaker := new(MockMatchmaker)
	matchmaker.On("CancelSearch", mock.Anything, "bob").Return(nil)
	matchmaker.On("RequestMatch", mock.Anything, "bob", models.Preferences{GenderFilter: models.GenderAny, Interests: []string{"chess"}}).
		Return(models.MatchResult{Status: models.MatchStatusMatched, RoomID: "room_x", PartnerID: "alice"}, nil).Once()
	matchmaker.On("RequestMatch", mock.Anything, "bob", models.Neutral()).
		Return(models.MatchResult{Status: models.MatchStatusWaiting}, nil).Once()

	bob := startSession(t, f, "bob", matchmaker, func(cfg *session.Config) {
		cfg.WatchdogDeadline = 50 * time.Millisecond
		cfg.AutoRequeue = func() bool { return true }
	})
	require.NoError(t, bob.session.Initialize(ctx))
	require.NoError(t, bob.session.StartChat(ctx, models.Preferences{GenderFilter: models.GenderAny, Interests: []string{"chess"}}))

	waitForState(t, bob.session, session.StateSearching)
	matchmaker.AssertExpectations(t)
}

// TestPartnerDisconnectFiresPolicyOnce: a failed transport after CONNECTED
// triggers exactly one teardown even if more state changes trail in.
func TestPartnerDisconnectFiresPolicyOnce(t *testing.T) {
	f := newFabric()
	ctx := context.Background()
	matchmaker := new(MockMatchmaker)
	matchmaker.On("CancelSearch", mock.Anything, "bob").Return(nil)
	matchmaker.On("RequestMatch", mock.Anything, "bob", mock.Anything).
		Return(models.MatchResult{Status: models.MatchStatusMatched, RoomID: "room_x", PartnerID: "alice"}, nil).Once()

	bob := startSession(t, f, "bob", matchmaker)
	require.NoError(t, bob.session.Initialize(ctx))
	require.NoError(t, bob.session.StartChat(ctx, models.Neutral()))
	waitForState(t, bob.session, session.StateConnecting)

	pc := bob.factory.latest()
	pc.fireState(rtc.StateConnected)
	waitForState(t, bob.session, session.StateConnected)

	pc.fireState(rtc.StateDisconnected)
	pc.fireState(rtc.StateFailed)
	waitForState(t, bob.session, session.StateIdle)

	// Only the initial RequestMatch happened; the second state change was
	// absorbed by the policy guard.
	matchmaker.AssertExpectations(t)
	assert.Equal(t, 1, bob.factory.count())
}

// TestHangUpReconnectSearchesWithNeutralPreferences covers "next partner":
// teardown plus an immediate neutral search.
func TestHangUpReconnectSearchesWithNeutralPreferences(t *testing.T) {
	f := newFabric()
	ctx := context.Background()

	alice := startSession(t, f, "alice", f.allocator)
	require.NoError(t, alice.session.Initialize(ctx))
	require.NoError(t, alice.session.StartChat(ctx, models.Preferences{Gender: "female", GenderFilter: "male", Interests: []string{"books"}}))
	waitForState(t, alice.session, session.StateSearching)

	require.NoError(t, alice.session.HangUp(ctx, true))
	waitForState(t, alice.session, session.StateSearching)

	// The re-enqueue dropped the filter and interests but kept the declared
	// gender, so a partner with a concrete filter can still claim her.
	claimed, err := f.store.ClaimPartner(ctx, "someone",
		models.Preferences{Gender: "male", GenderFilter: "female"}, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "alice", claimed.UserID)
	assert.Equal(t, "female", claimed.Preferences.Gender)
	assert.Equal(t, models.GenderAny, claimed.Preferences.GenderFilter)
	assert.Empty(t, claimed.Preferences.Interests)
}

// TestHangUpFromConnectedReturnsToIdle verifies a plain hang-up closes the
// peer and settles in IDLE.
func TestHangUpFromConnectedReturnsToIdle(t *testing.T) {
	f := newFabric()
	ctx := context.Background()
	matchmaker := new(MockMatchmaker)
	matchmaker.On("CancelSearch", mock.Anything, "bob").Return(nil)
	matchmaker.On("RequestMatch", mock.Anything, "bob", mock.Anything).
		Return(models.MatchResult{Status: models.MatchStatusMatched, RoomID: "room_x", PartnerID: "alice"}, nil)

	bob := startSession(t, f, "bob", matchmaker)
	require.NoError(t, bob.session.Initialize(ctx))
	require.NoError(t, bob.session.StartChat(ctx, models.Neutral()))
	bob.factory.latest().fireState(rtc.StateConnected)
	waitForState(t, bob.session, session.StateConnected)

	require.NoError(t, bob.session.HangUp(ctx, false))

	waitForState(t, bob.session, session.StateIdle)
	assert.True(t, bob.factory.latest().isClosed())
}

// TestStaleNotificationIgnored verifies an announcement landing after the
// search ended is consumed but does not move the session.
func TestStaleNotificationIgnored(t *testing.T) {
	f := newFabric()
	ctx := context.Background()

	alice := startSession(t, f, "alice", f.allocator)
	require.NoError(t, alice.session.Initialize(ctx))
	require.NoError(t, alice.session.StartChat(ctx, models.Neutral()))
	waitForState(t, alice.session, session.StateSearching)
	require.NoError(t, alice.session.HangUp(ctx, false))
	waitForState(t, alice.session, session.StateIdle)

	require.NoError(t, f.notifications.Publish(ctx, "alice", models.MatchPayload{RoomID: "room_zombie", PartnerID: "ghost"}))
	time.Sleep(100 * time.Millisecond)

	state, err := alice.session.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StateIdle, state)
	assert.Equal(t, 0, alice.factory.count(), "no pairing attempt may start from a stale announcement")
}

// TestRemoteTrackEventEmitted verifies inbound media surfaces on the event
// stream.
func TestRemoteTrackEventEmitted(t *testing.T) {
	f := newFabric()
	ctx := context.Background()
	matchmaker := new(MockMatchmaker)
	matchmaker.On("CancelSearch", mock.Anything, "bob").Return(nil)
	matchmaker.On("RequestMatch", mock.Anything, "bob", mock.Anything).
		Return(models.MatchResult{Status: models.MatchStatusMatched, RoomID: "room_x", PartnerID: "alice"}, nil)

	bob := startSession(t, f, "bob", matchmaker)
	events := bob.session.Events()
	require.NoError(t, bob.session.Initialize(ctx))
	require.NoError(t, bob.session.StartChat(ctx, models.Neutral()))
	waitForState(t, bob.session, session.StateConnecting)

	bob.factory.latest().fireTrack(rtc.RemoteTrack{Kind: "video", ID: "remote-1"})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == session.EventRemoteTrack {
				assert.Equal(t, "remote-1", ev.Track.ID)
				return
			}
		case <-deadline:
			t.Fatal("remote track event never surfaced")
		}
	}
}

// TestToggleMuteFlipsAudioTrack checks mute toggling without renegotiation.
func TestToggleMuteFlipsAudioTrack(t *testing.T) {
	f := newFabric()
	ctx := context.Background()
	media := &fakeMedia{}
	stream, err := media.Acquire(ctx, true, true)
	require.NoError(t, err)

	alice := startSession(t, f, "alice", f.allocator, func(cfg *session.Config) {
		cfg.Media = fixedMedia{stream: stream}
	})
	require.NoError(t, alice.session.Initialize(ctx))

	require.NoError(t, alice.session.ToggleMute(ctx))
	assert.False(t, stream.Audio.Enabled())
	require.NoError(t, alice.session.ToggleMute(ctx))
	assert.True(t, stream.Audio.Enabled())

	require.NoError(t, alice.session.ToggleVideo(ctx))
	assert.False(t, stream.Video.Enabled())
}

// fixedMedia always returns the same pre-built stream.
type fixedMedia struct {
	stream *rtc.LocalStream
}

func (m fixedMedia) Acquire(context.Context, bool, bool) (*rtc.LocalStream, error) {
	return m.stream, nil
}
