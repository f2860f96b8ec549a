package domain

import "time"

type MessageID string

// MaxMessageLen bounds the content accepted from a client.
const MaxMessageLen = 4096

// Message is append-only; only ReadBy grows after creation.
type Message struct {
	ID        MessageID `json:"id"`
	RoomID    RoomID    `json:"roomId"`
	SenderID  UserID    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	ReadBy    []UserID  `json:"readBy,omitempty"`
}
