package models

import "encoding/json"

// MatchPayload is the body of a match announcement pushed to the user who
// was waiting. Field names match the client wire format.
type MatchPayload struct {
	RoomID    string `json:"roomId"`
	PartnerID string `json:"partnerId"`
}

// SignalKind discriminates the negotiation payload union.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// SignalPayload is the body of a signaling mailbox row: an SDP offer or
// answer, or an ICE candidate. SDP and candidate contents are opaque to
// this service; they are produced and consumed by the peer-connection
// capability on each client.
type SignalPayload struct {
	Type      SignalKind      `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}
