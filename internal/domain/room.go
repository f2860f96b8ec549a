package domain

import "time"

type RoomID string

// Room is a private conversation between exactly two participants.
// ParticipantA is always the lexicographically smaller id.
type Room struct {
	ID           RoomID    `json:"id"`
	ParticipantA UserID    `json:"participantA"`
	ParticipantB UserID    `json:"participantB"`
	IsPrivate    bool      `json:"isPrivate"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CanonicalPair orders two participants so that one unordered pair maps to one key.
func CanonicalPair(a, b UserID) (UserID, UserID) {
	if b < a {
		return b, a
	}
	return a, b
}

func (r *Room) Has(u UserID) bool {
	return r.ParticipantA == u || r.ParticipantB == u
}

// Other returns the peer of u, or "" if u is not a participant.
func (r *Room) Other(u UserID) UserID {
	switch u {
	case r.ParticipantA:
		return r.ParticipantB
	case r.ParticipantB:
		return r.ParticipantA
	}
	return ""
}

func (r *Room) Participants() []UserID {
	return []UserID{r.ParticipantA, r.ParticipantB}
}
