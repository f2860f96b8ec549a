package domain

import "time"

type CallID string

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallAudio || t == CallVideo
}

type CallState string

const (
	CallRinging  CallState = "ringing"
	CallAccepted CallState = "accepted"
	CallRejected CallState = "rejected"
	CallTimedOut CallState = "timed_out"
	CallEnded    CallState = "ended"
)

const (
	ReasonDeclined = "Call declined"
	ReasonNoAnswer = "No answer"
)

type CallSession struct {
	ID         CallID     `json:"id"`
	RoomID     RoomID     `json:"roomId"`
	CallerID   UserID     `json:"callerId"`
	CalleeID   UserID     `json:"calleeId"`
	State      CallState  `json:"state"`
	Type       CallType   `json:"type"`
	StartTime  time.Time  `json:"startTime"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
}

func (c *CallSession) Has(u UserID) bool {
	return c.CallerID == u || c.CalleeID == u
}

func (c *CallSession) Other(u UserID) UserID {
	if c.CallerID == u {
		return c.CalleeID
	}
	if c.CalleeID == u {
		return c.CallerID
	}
	return ""
}

// Duration is the talk time: zero unless the call was accepted.
func (c *CallSession) Duration() time.Duration {
	if c.AcceptedAt == nil {
		return 0
	}
	end := time.Now()
	if c.EndTime != nil {
		end = *c.EndTime
	}
	return end.Sub(*c.AcceptedAt)
}
