// Package rtc defines the peer-connection and local-media capabilities the
// session orchestrator consumes. The production implementation wraps
// pion/webrtc; the core never looks inside SDP or candidate payloads.
package rtc

import (
	"context"
	"encoding/json"
)

// ConnectionState mirrors the peer connection lifecycle events the session
// cares about.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// DescriptionKind tags a session description.
type DescriptionKind string

const (
	DescriptionOffer  DescriptionKind = "offer"
	DescriptionAnswer DescriptionKind = "answer"
)

// Track is one local media track. Disabling a track mutes it without
// renegotiation or reacquisition.
type Track interface {
	Kind() string // "audio" or "video"
	Enabled() bool
	SetEnabled(enabled bool)
}

// LocalStream is the locally captured media, acquired once per application
// lifetime and bound read-only into every successive peer connection.
type LocalStream struct {
	Audio Track
	Video Track
}

// Tracks returns the non-nil tracks of the stream.
func (s *LocalStream) Tracks() []Track {
	var tracks []Track
	if s.Audio != nil {
		tracks = append(tracks, s.Audio)
	}
	if s.Video != nil {
		tracks = append(tracks, s.Video)
	}
	return tracks
}

// Media acquires the local capture stream.
type Media interface {
	Acquire(ctx context.Context, video, audio bool) (*LocalStream, error)
}

// RemoteTrack identifies an inbound media track from the partner.
type RemoteTrack struct {
	Kind string
	ID   string
}

// PeerConnection is the negotiation primitive. Create* methods also set
// the local description and return its SDP; candidate payloads are opaque
// JSON produced and consumed by the implementation.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context) (string, error)
	SetRemoteDescription(kind DescriptionKind, sdp string) error
	AddICECandidate(candidate json.RawMessage) error
	AddTrack(track Track) error

	OnICECandidate(fn func(candidate json.RawMessage))
	OnConnectionStateChange(fn func(state ConnectionState))
	OnRemoteTrack(fn func(track RemoteTrack))

	Close() error
}

// Factory creates a fresh PeerConnection per pairing attempt.
type Factory interface {
	NewPeerConnection(ctx context.Context) (PeerConnection, error)
}
