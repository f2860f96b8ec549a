package core

import "github.com/google/uuid"

type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}
