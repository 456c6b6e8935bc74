package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Compile-time interface checks.
var (
	_ Factory        = (*PionFactory)(nil)
	_ PeerConnection = (*pionPeerConnection)(nil)
	_ Media          = (*PionMedia)(nil)
)

// PionFactory creates pion-backed peer connections.
type PionFactory struct {
	ICEServers []webrtc.ICEServer
}

// NewPionFactory builds a factory from STUN/TURN server URLs. With no
// servers only host candidates are gathered, which is enough for
// connections inside one network.
func NewPionFactory(iceServers []webrtc.ICEServer) *PionFactory {
	return &PionFactory{ICEServers: iceServers}
}

func (f *PionFactory) NewPeerConnection(_ context.Context) (PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: f.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &pionPeerConnection{pc: pc}, nil
}

type pionPeerConnection struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeerConnection) CreateOffer(_ context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local offer: %w", err)
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *pionPeerConnection) CreateAnswer(_ context.Context) (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local answer: %w", err)
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *pionPeerConnection) SetRemoteDescription(kind DescriptionKind, sdp string) error {
	var sdpType webrtc.SDPType
	switch kind {
	case DescriptionOffer:
		sdpType = webrtc.SDPTypeOffer
	case DescriptionAnswer:
		sdpType = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("unknown description kind %q", kind)
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sdp})
}

func (p *pionPeerConnection) AddICECandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return p.pc.AddICECandidate(init)
}

func (p *pionPeerConnection) AddTrack(track Track) error {
	pt, ok := track.(*PionTrack)
	if !ok {
		return fmt.Errorf("track %T is not a pion track", track)
	}
	_, err := p.pc.AddTrack(pt.local)
	return err
}

func (p *pionPeerConnection) OnICECandidate(fn func(candidate json.RawMessage)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		fn(raw)
	})
}

func (p *pionPeerConnection) OnConnectionStateChange(fn func(state ConnectionState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnecting:
			fn(StateConnecting)
		case webrtc.PeerConnectionStateConnected:
			fn(StateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			fn(StateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			fn(StateFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(StateClosed)
		}
	})
}

func (p *pionPeerConnection) OnRemoteTrack(fn func(track RemoteTrack)) {
	p.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(RemoteTrack{Kind: remote.Kind().String(), ID: remote.ID()})
	})
}

func (p *pionPeerConnection) Close() error {
	return p.pc.Close()
}

// PionTrack wraps a static local track with the mute flag the session
// toggles. The capture pipeline checks Enabled before writing samples;
// the track itself stays negotiated into the connection.
type PionTrack struct {
	kind    string
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

func (t *PionTrack) Kind() string            { return t.kind }
func (t *PionTrack) Enabled() bool           { return t.enabled.Load() }
func (t *PionTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Local exposes the underlying pion track for capture pipelines.
func (t *PionTrack) Local() *webrtc.TrackLocalStaticSample { return t.local }

// PionMedia acquires pion local tracks. Device capture feeds the tracks
// outside this package; the session only binds and toggles them.
type PionMedia struct {
	mu     sync.Mutex
	stream *LocalStream
}

// NewPionMedia builds the local media capability.
func NewPionMedia() *PionMedia {
	return &PionMedia{}
}

// Acquire creates the local tracks on first call and returns the same
// stream afterwards; the capture stream is shared across every successive
// peer connection and released only on shutdown.
func (m *PionMedia) Acquire(_ context.Context, video, audio bool) (*LocalStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return m.stream, nil
	}

	stream := &LocalStream{}
	streamID := "pairwave-" + uuid.New().String()
	if audio {
		local, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		track := &PionTrack{kind: "audio", local: local}
		track.enabled.Store(true)
		stream.Audio = track
	}
	if video {
		local, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		track := &PionTrack{kind: "video", local: local}
		track.enabled.Store(true)
		stream.Video = track
	}

	m.stream = stream
	return stream, nil
}
