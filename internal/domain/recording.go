package domain

import "time"

type RecordingID string

type Recording struct {
	ID            RecordingID `json:"id"`
	CallSessionID CallID      `json:"callSessionId"`
	FilePath      string      `json:"filePath"`
	StartTime     time.Time   `json:"startTime"`
	EndTime       *time.Time  `json:"endTime,omitempty"`
}
