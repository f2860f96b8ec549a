package core

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/dkeye/VoiceHub/internal/domain"
)

// Event is one server-to-client notification. The set of implementations
// below is closed; every frame written to a client is one of them.
type Event interface {
	EventType() string
}

type AuthenticatedEvent struct {
	User domain.Identity `json:"user"`
}

type OnlineUsersEvent struct {
	Users []domain.Identity `json:"users"`
}

// PresenceEvent announces a user's first connection or last disconnection.
type PresenceEvent struct {
	Online bool            `json:"-"`
	User   domain.Identity `json:"user"`
}

type RoomJoinedEvent struct {
	Room     domain.Room      `json:"room"`
	Messages []domain.Message `json:"messages"`
}

type RoomLeftEvent struct {
	RoomID domain.RoomID `json:"roomId"`
}

// MemberEvent tells room members that someone joined or left.
type MemberEvent struct {
	Joined bool            `json:"-"`
	RoomID domain.RoomID   `json:"roomId"`
	User   domain.Identity `json:"user"`
}

type MessageEvent struct {
	Message domain.Message `json:"message"`
}

type TypingEvent struct {
	RoomID      domain.RoomID `json:"roomId"`
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
	IsTyping    bool          `json:"isTyping"`
}

type MessageReadEvent struct {
	MessageID domain.MessageID `json:"messageId"`
	RoomID    domain.RoomID    `json:"roomId"`
	UserID    domain.UserID    `json:"userId"`
	ReadBy    []domain.UserID  `json:"readBy"`
}

type IncomingCallEvent struct {
	CallID     domain.CallID   `json:"callId"`
	RoomID     domain.RoomID   `json:"roomId"`
	CallerID   domain.UserID   `json:"callerId"`
	CallerName string          `json:"callerName"`
	Type       domain.CallType `json:"type"`
}

type CallAcceptedEvent struct {
	CallID     domain.CallID `json:"callId"`
	RoomID     domain.RoomID `json:"roomId"`
	AccepterID domain.UserID `json:"accepterId"`
}

type CallRejectedEvent struct {
	CallID     domain.CallID `json:"callId"`
	RoomID     domain.RoomID `json:"roomId"`
	RejecterID domain.UserID `json:"rejecterId"`
	Reason     string        `json:"reason"`
}

type CallEndedEvent struct {
	CallID   domain.CallID `json:"callId"`
	RoomID   domain.RoomID `json:"roomId"`
	EnderID  domain.UserID `json:"enderId,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Duration int64         `json:"duration"`
}

// SignalEvent carries an opaque SDP/ICE payload between peers.
type SignalEvent struct {
	From    domain.UserID   `json:"from"`
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type RecordingEvent struct {
	Started   bool             `json:"-"`
	Recording domain.Recording `json:"recording"`
}

type ErrorEvent struct {
	Message string      `json:"message"`
	Code    domain.Code `json:"code"`
}

type PongEvent struct {
	Time int64 `json:"time"`
}

func (AuthenticatedEvent) EventType() string { return "authenticated" }
func (OnlineUsersEvent) EventType() string   { return "onlineUsers" }
func (e PresenceEvent) EventType() string {
	if e.Online {
		return "userOnline"
	}
	return "userOffline"
}
func (RoomJoinedEvent) EventType() string { return "roomJoined" }
func (RoomLeftEvent) EventType() string   { return "roomLeft" }
func (e MemberEvent) EventType() string {
	if e.Joined {
		return "userJoined"
	}
	return "userLeft"
}
func (MessageEvent) EventType() string      { return "message" }
func (TypingEvent) EventType() string       { return "typing" }
func (MessageReadEvent) EventType() string  { return "messageRead" }
func (IncomingCallEvent) EventType() string { return "incomingCall" }
func (CallAcceptedEvent) EventType() string { return "callAccepted" }
func (CallRejectedEvent) EventType() string { return "callRejected" }
func (CallEndedEvent) EventType() string    { return "callEnded" }
func (SignalEvent) EventType() string       { return "signal" }
func (e RecordingEvent) EventType() string {
	if e.Started {
		return "recordingStarted"
	}
	return "recordingStopped"
}
func (ErrorEvent) EventType() string { return "error" }
func (PongEvent) EventType() string  { return "pong" }

func NewErrorEvent(err error) ErrorEvent {
	de := domain.AsError(err)
	return ErrorEvent{Message: de.Message, Code: de.Code}
}

func NewPongEvent(now time.Time) PongEvent {
	return PongEvent{Time: now.UnixMilli()}
}

type envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

// EncodeEvent renders an event as {"type": ..., "data": {...}}.
func EncodeEvent(ev Event) (Frame, error) {
	return json.Marshal(envelope{Type: ev.EventType(), Data: ev})
}
