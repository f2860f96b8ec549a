package orch

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

// InitiateCall rings callee. Nothing is created when callee is offline or
// either side is already busy.
func (o *Orchestrator) InitiateCall(ctx context.Context, sid core.SessionID, calleeRaw string, typ domain.CallType) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	callee, err := parsePeer(calleeRaw)
	if err != nil {
		return err
	}
	if callee == id.ID {
		return domain.ErrBadPayload.Errorf("cannot call yourself")
	}
	online, err := o.Presence.IsOnline(ctx, callee)
	if err != nil {
		return err
	}
	if !online {
		return domain.ErrUserOffline
	}
	if _, busy := o.Calls.Active(id.ID); busy {
		return domain.ErrCallInProgress.Errorf("you are already in a call")
	}
	if _, busy := o.Calls.Active(callee); busy {
		return domain.ErrCallInProgress
	}

	room, err := o.Rooms.Resolve(ctx, id.ID, callee)
	if err != nil {
		return err
	}
	cs, err := o.Calls.Begin(ctx, id.ID, callee, room.ID, typ)
	if err != nil {
		return err
	}
	o.Registry.SetCall(sid, cs.ID)

	res := o.Registry.SendUser(callee, core.IncomingCallEvent{
		CallID:     cs.ID,
		RoomID:     cs.RoomID,
		CallerID:   id.ID,
		CallerName: id.DisplayName,
		Type:       cs.Type,
	})
	if res.SendTo == 0 {
		log.Warn().Str("module", "orch").Str("call", string(cs.ID)).Str("callee", string(callee)).Msg("callee online but no local connection, waiting for timeout")
	}
	return nil
}

func (o *Orchestrator) AcceptCall(ctx context.Context, sid core.SessionID, callerRaw string) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	caller, err := parsePeer(callerRaw)
	if err != nil {
		return err
	}
	cs, err := o.Calls.Accept(ctx, id.ID, caller)
	if err != nil {
		return err
	}
	o.Registry.SetCall(sid, cs.ID)
	o.Registry.SendUser(caller, core.CallAcceptedEvent{CallID: cs.ID, RoomID: cs.RoomID, AccepterID: id.ID})
	return nil
}

// RejectCall is a no-op when there is no ringing call from caller.
func (o *Orchestrator) RejectCall(ctx context.Context, sid core.SessionID, callerRaw, reason string) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	caller, err := parsePeer(callerRaw)
	if err != nil {
		return err
	}
	cs, ok := o.Calls.Reject(ctx, id.ID, caller)
	if !ok {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("caller", string(caller)).Msg("reject: no ringing call")
		return nil
	}
	if reason == "" {
		reason = domain.ReasonDeclined
	}
	o.Registry.ClearCall(cs.ID)
	o.Registry.SendUser(caller, core.CallRejectedEvent{CallID: cs.ID, RoomID: cs.RoomID, RejecterID: id.ID, Reason: reason})
	return nil
}

// EndCall always succeeds; ending a call the user is not part of does nothing.
func (o *Orchestrator) EndCall(ctx context.Context, sid core.SessionID, room domain.RoomID) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	o.finishCall(ctx, sid, id.ID, room)
	return nil
}

// finishCall tells the other party and the ender's other connections that
// the call is over. from is the connection that ended it.
func (o *Orchestrator) finishCall(ctx context.Context, from core.SessionID, ender domain.UserID, room domain.RoomID) {
	cs, ok := o.Calls.End(ctx, ender, room)
	if !ok {
		return
	}
	o.Registry.ClearCall(cs.ID)
	if rec, stopped, err := o.Recorder.Stop(ctx, cs.ID); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("call", string(cs.ID)).Msg("finalize recording")
	} else if stopped {
		log.Info().Str("module", "orch").Str("call", string(cs.ID)).Str("recording", string(rec.ID)).Msg("recording finalized with call")
	}
	ev := core.CallEndedEvent{
		CallID:   cs.ID,
		RoomID:   cs.RoomID,
		EnderID:  ender,
		Duration: cs.Duration().Milliseconds(),
	}
	o.Registry.SendUser(cs.Other(ender), ev)
	o.Registry.SendUserExcept(ender, ev, from)
}

func (o *Orchestrator) onCallTimeout(cs domain.CallSession) {
	o.Registry.ClearCall(cs.ID)
	o.Registry.SendUser(cs.CallerID, core.CallRejectedEvent{
		CallID:     cs.ID,
		RoomID:     cs.RoomID,
		RejecterID: cs.CalleeID,
		Reason:     domain.ReasonNoAnswer,
	})
	o.Registry.SendUser(cs.CalleeID, core.CallEndedEvent{
		CallID: cs.ID,
		RoomID: cs.RoomID,
		Reason: domain.ReasonNoAnswer,
	})
}

// Signal forwards an opaque payload to every connection of to.
func (o *Orchestrator) Signal(ctx context.Context, sid core.SessionID, toRaw, kind string, payload json.RawMessage) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	to, err := parsePeer(toRaw)
	if err != nil {
		return err
	}
	res := o.Registry.SendUser(to, core.SignalEvent{From: id.ID, Kind: kind, Payload: payload})
	if res.SendTo == 0 && len(res.Dropped) == 0 {
		return domain.ErrUserOffline
	}
	return nil
}
