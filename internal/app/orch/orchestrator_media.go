package orch

import (
	"context"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

// recordableCall resolves the call a recording action targets: the given
// id, or the user's live call when empty.
func (o *Orchestrator) recordableCall(uid domain.UserID, id domain.CallID) (domain.CallSession, error) {
	var (
		cs domain.CallSession
		ok bool
	)
	if id == "" {
		cs, ok = o.Calls.Active(uid)
	} else {
		cs, ok = o.Calls.Get(id)
	}
	if !ok {
		return cs, domain.ErrCallNotFound
	}
	if !cs.Has(uid) {
		return cs, domain.ErrUnauthorized
	}
	return cs, nil
}

func (o *Orchestrator) StartRecording(ctx context.Context, sid core.SessionID, call domain.CallID) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	cs, err := o.recordableCall(id.ID, call)
	if err != nil {
		return err
	}
	if cs.State != domain.CallAccepted {
		return domain.ErrCallNotFound.Errorf("call is not in progress")
	}
	rec, started, err := o.Recorder.Start(ctx, cs.ID)
	if err != nil {
		return err
	}
	ev := core.RecordingEvent{Started: true, Recording: *rec}
	if !started {
		_ = o.Registry.Send(sid, ev)
		return nil
	}
	o.Registry.SendUser(cs.CallerID, ev)
	o.Registry.SendUser(cs.CalleeID, ev)
	return nil
}

// AppendChunk writes to the call's open sink. Chunks for a call that just
// ended are dropped without error.
func (o *Orchestrator) AppendChunk(ctx context.Context, sid core.SessionID, call domain.CallID, chunk []byte) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	if call == "" {
		cs, ok := o.Calls.Active(id.ID)
		if !ok {
			return nil
		}
		call = cs.ID
	}
	if cs, ok := o.Calls.Get(call); ok && !cs.Has(id.ID) {
		return domain.ErrUnauthorized
	}
	_, err = o.Recorder.Append(call, chunk)
	return err
}

func (o *Orchestrator) StopRecording(ctx context.Context, sid core.SessionID, call domain.CallID) error {
	id, err := o.Registry.Identity(sid)
	if err != nil {
		return err
	}
	cs, err := o.recordableCall(id.ID, call)
	if err != nil {
		return err
	}
	rec, stopped, err := o.Recorder.Stop(ctx, cs.ID)
	if err != nil {
		return err
	}
	if !stopped {
		return nil
	}
	ev := core.RecordingEvent{Started: false, Recording: *rec}
	o.Registry.SendUser(cs.CallerID, ev)
	o.Registry.SendUser(cs.CalleeID, ev)
	return nil
}
