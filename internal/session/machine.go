package session

import (
	"encoding/json"
	"fmt"
	"time"

	"pairwave/backend/internal/config"
	"pairwave/backend/internal/models"
	"pairwave/backend/internal/relay"
	"pairwave/backend/internal/rtc"

	"go.uber.org/zap"
)

// Everything in this file runs inside the event loop goroutine.

func (s *Session) initialize() error {
	if s.cfg.UserID == "" {
		s.setState(StateError)
		return ErrAuthentication
	}
	s.setState(StateAwaitingMedia)

	// Leftovers from a previous run of the same identity. Failures here
	// never block startup.
	if err := s.cfg.Notifications.Purge(s.ctx, s.cfg.UserID); err != nil {
		s.logger.Warn("startup notification purge failed", zap.Error(err))
	}
	if err := s.cfg.Signals.Purge(s.ctx, s.cfg.UserID); err != nil {
		s.logger.Warn("startup signal purge failed", zap.Error(err))
	}
	if err := s.cfg.Matchmaker.CancelSearch(s.ctx, s.cfg.UserID); err != nil {
		s.logger.Warn("startup waiting entry cleanup failed", zap.Error(err))
	}

	if s.stream == nil {
		stream, err := s.cfg.Media.Acquire(s.ctx, true, true)
		if err != nil {
			s.setState(StateError)
			return fmt.Errorf("%w: %v", ErrMediaAcquisition, err)
		}
		s.stream = stream
	}
	s.setState(StateIdle)
	return nil
}

func (s *Session) startChat(prefs models.Preferences) error {
	if s.state != StateIdle {
		return fmt.Errorf("%w: start chat from %s", ErrInvalidTransition, s.state)
	}
	s.epoch++
	epoch := s.epoch
	s.declaredGender = prefs.Gender
	s.setState(StateSearching)

	// Subscribe before requesting: if the allocator pairs us as the
	// waiting side while the request is in flight, the announcement must
	// already have somewhere to land.
	sub, err := s.cfg.Notifications.Subscribe(s.ctx, s.cfg.UserID)
	if err != nil {
		s.setState(StateError)
		return fmt.Errorf("%w: %v", ErrRelaySubscription, err)
	}
	s.searchSub = sub
	go func() {
		for msg := range sub.Messages() {
			msg := msg
			s.post(func() { s.onNotification(epoch, msg) })
		}
	}()

	res, err := s.cfg.Matchmaker.RequestMatch(s.ctx, s.cfg.UserID, prefs)
	if err != nil {
		s.stopSearch()
		s.setState(StateError)
		return fmt.Errorf("%w: %v", ErrAllocator, err)
	}

	switch res.Status {
	case models.MatchStatusMatched:
		s.stopSearch()
		return s.joinRoom(res.RoomID, res.PartnerID, true)
	case models.MatchStatusWaiting:
		// Stay SEARCHING; onNotification completes the pairing.
		return nil
	default:
		s.stopSearch()
		s.setState(StateError)
		return fmt.Errorf("%w: unknown status %q", ErrAllocator, res.Status)
	}
}

func (s *Session) onNotification(epoch uint64, msg relay.Message) {
	// Consume regardless of relevance: the mailbox is one-shot and
	// redelivery of an already-read announcement must stay a no-op.
	if err := s.cfg.Notifications.Consume(s.ctx, msg.ID); err != nil {
		s.logger.Warn("notification consume failed", zap.String("id", msg.ID), zap.Error(err))
	}
	if epoch != s.epoch || s.state != StateSearching {
		s.logger.Debug("discarding stale match notification", zap.String("id", msg.ID))
		return
	}

	var payload models.MatchPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.logger.Warn("malformed match notification", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	if payload.RoomID == "" || payload.PartnerID == "" {
		s.logger.Warn("incomplete match notification", zap.String("id", msg.ID))
		return
	}

	s.stopSearch()
	if err := s.joinRoom(payload.RoomID, payload.PartnerID, false); err != nil {
		s.logger.Error("join room failed", zap.String("room_id", payload.RoomID), zap.Error(err))
	}
}

func (s *Session) stopSearch() {
	if s.searchSub != nil {
		s.searchSub.Close()
		s.searchSub = nil
	}
}

func (s *Session) joinRoom(roomID, partnerID string, offerCreator bool) error {
	if s.attempt != nil && s.attempt.roomID == roomID {
		// Duplicate matched indication for the room we already joined.
		return nil
	}
	s.epoch++
	epoch := s.epoch
	a := &attempt{
		epoch:        epoch,
		roomID:       roomID,
		partnerID:    partnerID,
		offerCreator: offerCreator,
	}
	s.attempt = a
	s.setState(StateConnecting)

	a.watchdog = time.AfterFunc(s.deadline, func() {
		s.post(func() { s.onWatchdog(epoch) })
	})

	pc, err := s.cfg.Peers.NewPeerConnection(s.ctx)
	if err != nil {
		return s.failAttempt(fmt.Errorf("%w: create peer connection: %v", ErrNegotiation, err))
	}
	a.pc = pc
	pc.OnICECandidate(func(candidate json.RawMessage) {
		s.post(func() { s.onLocalCandidate(epoch, candidate) })
	})
	pc.OnConnectionStateChange(func(state rtc.ConnectionState) {
		s.post(func() { s.onPeerState(epoch, state) })
	})
	pc.OnRemoteTrack(func(track rtc.RemoteTrack) {
		s.post(func() { s.onRemoteTrack(epoch, track) })
	})
	if s.stream != nil {
		for _, track := range s.stream.Tracks() {
			if err := pc.AddTrack(track); err != nil {
				return s.failAttempt(fmt.Errorf("%w: bind local track: %v", ErrNegotiation, err))
			}
		}
	}

	sub, err := s.cfg.Signals.Subscribe(s.ctx, roomID, s.cfg.UserID)
	if err != nil {
		return s.failAttempt(fmt.Errorf("%w: %v", ErrRelaySubscription, err))
	}
	a.sigSub = sub
	go func() {
		for msg := range sub.Messages() {
			msg := msg
			s.post(func() { s.onSignal(epoch, msg) })
		}
	}()

	membership, err := s.cfg.Presence.Join(s.ctx, roomID, s.cfg.UserID)
	if err != nil {
		return s.failAttempt(fmt.Errorf("%w: %v", ErrRelaySubscription, err))
	}
	a.membership = membership
	go func() {
		for ev := range membership.Events() {
			ev := ev
			s.post(func() { s.onPresence(epoch, ev) })
		}
	}()

	// The offer creator waits here: creating the offer before the partner
	// has attached its signaling subscription can lose the offer and
	// strand both sides in CONNECTING until the watchdog fires.
	return nil
}

// failAttempt handles fatal setup errors of a pairing attempt.
func (s *Session) failAttempt(err error) error {
	s.teardownAttempt()
	s.setState(StateError)
	return err
}

func (s *Session) onPresence(epoch uint64, ev relay.PresenceEvent) {
	a := s.attempt
	if a == nil || epoch != s.epoch || s.state != StateConnecting {
		return
	}
	if ev.Kind == relay.PresenceJoin && ev.MemberID == a.partnerID {
		a.partnerPresent = true
		s.maybeSendOffer(a)
	}
}

func (s *Session) maybeSendOffer(a *attempt) {
	if !a.offerCreator || a.offerSent || !a.partnerPresent {
		return
	}
	a.offerSent = true
	sdp, err := a.pc.CreateOffer(s.ctx)
	if err != nil {
		// Bounded by the watchdog, like every negotiation failure.
		s.logger.Warn("create offer failed", zap.String("room_id", a.roomID), zap.Error(err))
		return
	}
	a.expectingAnswer = true
	s.sendSignal(a, models.SignalPayload{Type: models.SignalOffer, SDP: sdp})
}

func (s *Session) sendSignal(a *attempt, payload models.SignalPayload) {
	if err := s.cfg.Signals.Publish(s.ctx, a.roomID, a.partnerID, payload); err != nil {
		s.logger.Warn("signal publish failed",
			zap.String("room_id", a.roomID),
			zap.String("type", string(payload.Type)),
			zap.Error(err))
	}
}

func (s *Session) onSignal(epoch uint64, msg relay.Message) {
	if err := s.cfg.Signals.Consume(s.ctx, msg.ID); err != nil {
		s.logger.Warn("signal consume failed", zap.String("id", msg.ID), zap.Error(err))
	}
	a := s.attempt
	if a == nil || epoch != s.epoch || (s.state != StateConnecting && s.state != StateConnected) {
		s.logger.Debug("discarding stale signal", zap.String("id", msg.ID))
		return
	}

	var payload models.SignalPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.logger.Warn("malformed signal", zap.String("id", msg.ID), zap.Error(err))
		return
	}

	switch payload.Type {
	case models.SignalOffer:
		if a.remoteSet {
			// Duplicate or replayed offer.
			return
		}
		if err := a.pc.SetRemoteDescription(rtc.DescriptionOffer, payload.SDP); err != nil {
			s.logger.Warn("apply offer failed", zap.String("room_id", a.roomID), zap.Error(err))
			return
		}
		a.remoteSet = true
		s.flushCandidates(a)
		answer, err := a.pc.CreateAnswer(s.ctx)
		if err != nil {
			s.logger.Warn("create answer failed", zap.String("room_id", a.roomID), zap.Error(err))
			return
		}
		s.sendSignal(a, models.SignalPayload{Type: models.SignalAnswer, SDP: answer})

	case models.SignalAnswer:
		if !a.expectingAnswer {
			// Duplicate or late answer.
			return
		}
		if err := a.pc.SetRemoteDescription(rtc.DescriptionAnswer, payload.SDP); err != nil {
			s.logger.Warn("apply answer failed", zap.String("room_id", a.roomID), zap.Error(err))
			return
		}
		a.expectingAnswer = false
		a.remoteSet = true
		s.flushCandidates(a)

	case models.SignalCandidate:
		if a.remoteSet {
			if err := a.pc.AddICECandidate(payload.Candidate); err != nil {
				s.logger.Warn("apply candidate failed", zap.String("room_id", a.roomID), zap.Error(err))
			}
			return
		}
		if len(a.candidates) >= config.CandidateBufferCap {
			s.logger.Warn("candidate buffer full, dropping oldest", zap.String("room_id", a.roomID))
			a.candidates = a.candidates[1:]
		}
		a.candidates = append(a.candidates, payload)

	default:
		s.logger.Warn("unknown signal type", zap.String("type", string(payload.Type)))
	}
}

// flushCandidates drains the buffer in arrival order. Only called once the
// remote description is set.
func (s *Session) flushCandidates(a *attempt) {
	for _, payload := range a.candidates {
		if err := a.pc.AddICECandidate(payload.Candidate); err != nil {
			s.logger.Warn("apply buffered candidate failed", zap.String("room_id", a.roomID), zap.Error(err))
		}
	}
	a.candidates = nil
}

func (s *Session) onLocalCandidate(epoch uint64, candidate json.RawMessage) {
	a := s.attempt
	if a == nil || epoch != s.epoch {
		return
	}
	s.sendSignal(a, models.SignalPayload{Type: models.SignalCandidate, Candidate: candidate})
}

func (s *Session) onRemoteTrack(epoch uint64, track rtc.RemoteTrack) {
	if s.attempt == nil || epoch != s.epoch {
		return
	}
	s.emit(Event{Kind: EventRemoteTrack, Track: track})
}

func (s *Session) onPeerState(epoch uint64, state rtc.ConnectionState) {
	a := s.attempt
	if a == nil || epoch != s.epoch {
		return
	}
	switch state {
	case rtc.StateConnected:
		if a.watchdog != nil {
			a.watchdog.Stop()
			a.watchdog = nil
		}
		s.setState(StateConnected)
	case rtc.StateDisconnected, rtc.StateFailed:
		s.firePolicy(a, "peer connection "+string(state))
	}
}

func (s *Session) onWatchdog(epoch uint64) {
	a := s.attempt
	if a == nil || epoch != s.epoch || s.state == StateConnected {
		return
	}
	s.firePolicy(a, "watchdog expired")
}

// firePolicy invokes the partner-disconnect policy exactly once per
// attempt and starts teardown.
func (s *Session) firePolicy(a *attempt, reason string) {
	if a.policyFired {
		return
	}
	a.policyFired = true
	s.logger.Info("pairing attempt ended", zap.String("room_id", a.roomID), zap.String("reason", reason))

	reconnect := s.cfg.AutoRequeue != nil && s.cfg.AutoRequeue()
	if err := s.hangUp(reconnect); err != nil {
		s.logger.Error("teardown after disconnect failed", zap.Error(err))
	}
}

func (s *Session) hangUp(reconnect bool) error {
	s.epoch++
	s.stopSearch()
	s.teardownAttempt()

	// Best-effort cleanup; must never block the next search.
	if err := s.cfg.Matchmaker.CancelSearch(s.ctx, s.cfg.UserID); err != nil {
		s.logger.Warn("cancel search failed", zap.Error(err))
	}
	if err := s.cfg.Signals.Purge(s.ctx, s.cfg.UserID); err != nil {
		s.logger.Warn("signal purge failed", zap.Error(err))
	}
	if err := s.cfg.Notifications.Purge(s.ctx, s.cfg.UserID); err != nil {
		s.logger.Warn("notification purge failed", zap.Error(err))
	}

	s.emit(Event{Kind: EventRemoteCleared})
	s.state = StateIdle
	if reconnect {
		return s.startChat(models.NeutralFor(s.declaredGender))
	}
	s.emit(Event{Kind: EventState, State: StateIdle})
	return nil
}

// teardownAttempt releases every per-attempt resource. The epoch was
// already bumped (or the attempt replaced), so late callbacks are inert.
func (s *Session) teardownAttempt() {
	a := s.attempt
	if a == nil {
		return
	}
	s.attempt = nil
	if a.watchdog != nil {
		a.watchdog.Stop()
	}
	if a.sigSub != nil {
		a.sigSub.Close()
	}
	if a.membership != nil {
		a.membership.Leave()
	}
	if a.pc != nil {
		if err := a.pc.Close(); err != nil {
			s.logger.Warn("peer connection close failed", zap.String("room_id", a.roomID), zap.Error(err))
		}
	}
}

// shutdown runs when the loop exits.
func (s *Session) shutdown() {
	s.epoch++
	s.stopSearch()
	s.teardownAttempt()
	close(s.events)
}
