package signal

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

type initiateCallCmd struct {
	CalleeID string `json:"calleeId" validate:"required,max=64"`
	CallType string `json:"callType" validate:"omitempty,oneof=audio video"`
}

func (c *initiateCallCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.InitiateCall(ctx, sid, c.CalleeID, domain.CallType(c.CallType))
}

type acceptCallCmd struct {
	CallerID string `json:"callerId" validate:"required,max=64"`
}

func (c *acceptCallCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.AcceptCall(ctx, sid, c.CallerID)
}

type rejectCallCmd struct {
	CallerID string `json:"callerId" validate:"required,max=64"`
	Reason   string `json:"reason" validate:"omitempty,max=256"`
}

func (c *rejectCallCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.RejectCall(ctx, sid, c.CallerID, c.Reason)
}

type endCallCmd struct {
	RoomID string `json:"roomId" validate:"omitempty,max=64"`
}

func (c *endCallCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.EndCall(ctx, sid, domain.RoomID(c.RoomID))
}

// signalCmd relays an SDP offer/answer or ICE candidate untouched.
type signalCmd struct {
	To      string          `json:"to" validate:"required,max=64"`
	Kind    string          `json:"kind" validate:"omitempty,max=32"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

func (c *signalCmd) run(ctx context.Context, ctl *SignalWSController, sid core.SessionID) error {
	return ctl.Orch.Signal(ctx, sid, c.To, c.Kind, c.Payload)
}
