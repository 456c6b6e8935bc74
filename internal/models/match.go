package models

// MatchStatus is the discriminator of the allocator RPC response.
type MatchStatus string

const (
	MatchStatusWaiting MatchStatus = "waiting"
	MatchStatusMatched MatchStatus = "matched"
)

// MatchResult is what RequestMatch returns to the caller. Only the
// requester that found a waiting partner gets the matched variant; the
// partner learns about the room through its notification mailbox.
type MatchResult struct {
	Status    MatchStatus `json:"status"`
	RoomID    string      `json:"roomId,omitempty"`
	PartnerID string      `json:"partnerId,omitempty"`
}
