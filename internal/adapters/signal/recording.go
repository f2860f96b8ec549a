package signal

import (
	"context"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

// An empty callSessionId targets the sender's current call.

type startRecordingCmd struct {
	CallSessionID string `json:"callSessionId" validate:"omitempty,max=64"`
}

func (c *startRecordingCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.StartRecording(ctx, sid, domain.CallID(c.CallSessionID))
}

// appendChunkCmd carries base64 media bytes.
type appendChunkCmd struct {
	CallSessionID string `json:"callSessionId" validate:"omitempty,max=64"`
	Chunk         []byte `json:"chunk" validate:"required"`
}

func (c *appendChunkCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.AppendChunk(ctx, sid, domain.CallID(c.CallSessionID), c.Chunk)
}

type stopRecordingCmd struct {
	CallSessionID string `json:"callSessionId" validate:"omitempty,max=64"`
}

func (c *stopRecordingCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.StopRecording(ctx, sid, domain.CallID(c.CallSessionID))
}
