package orch

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/app"
	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
	"github.com/dkeye/VoiceHub/internal/metrics"
)

// DefaultPageSize is the number of messages sent with roomJoined.
const DefaultPageSize = 50

// Orchestrator turns client actions into state changes across the
// registry, the shared cache and the store, and emits the resulting events.
type Orchestrator struct {
	Registry *app.Registry
	Presence *app.Presence
	Rooms    *app.RoomResolver
	Messages *app.MessagePipeline
	Calls    *app.CallManager
	Recorder *app.Recorder
	Identity core.IdentityVerifier
	Policy   app.Policy
	PageSize int
}

// Init wires callbacks between components. Call it once before serving.
func (o *Orchestrator) Init() {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	o.Calls.OnTimeout(o.onCallTimeout)
}

func (o *Orchestrator) Connect(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.BindSignal(sid, conn, cancel)
}

func (o *Orchestrator) Authenticate(ctx context.Context, sid core.SessionID, token, role string) error {
	if token == "" {
		return domain.ErrAuth.Errorf("missing token")
	}
	id, err := o.Identity.VerifyToken(ctx, token, role)
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			return err
		}
		metrics.DependencyErrors.WithLabelValues("identity").Inc()
		return domain.Dependency("verify token", err)
	}
	unlock := o.Presence.LockUser(id.ID)
	first, err := o.Registry.BindIdentity(sid, id)
	if err != nil {
		unlock()
		return err
	}
	if err := o.Presence.MarkOnline(ctx, id); err != nil {
		unlock()
		return err
	}
	if first {
		o.Registry.SendAuthenticated(core.PresenceEvent{Online: true, User: *id}, id.ID)
	}
	unlock()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("user", string(id.ID)).Msg("authenticated")

	_ = o.Registry.Send(sid, core.AuthenticatedEvent{User: *id})
	users, err := o.Presence.OnlineUsers(ctx)
	if err != nil {
		return err
	}
	_ = o.Registry.Send(sid, core.OnlineUsersEvent{Users: users})
	return nil
}

// Disconnect is idempotent. It leaves the joined room, ends the call the
// connection took part in and, for the user's last connection, marks the
// user offline and ends any call still holding them.
func (o *Orchestrator) Disconnect(ctx context.Context, sid core.SessionID) {
	snap, ok := o.Registry.Unbind(sid)
	if !ok || snap.Identity == nil {
		return
	}
	id := snap.Identity
	logger := log.With().Str("module", "orch").Str("sid", string(sid)).Str("user", string(id.ID)).Logger()

	if snap.RoomID != "" {
		o.afterLeave(ctx, sid, id, snap.RoomID)
	}

	unlock := o.Presence.LockUser(id.ID)
	defer unlock()
	last := !o.Registry.IsConnected(id.ID)
	if cs, ok := o.Calls.Active(id.ID); ok && (last || cs.ID == snap.CallID) {
		o.finishCall(ctx, sid, id.ID, cs.RoomID)
	}

	if last {
		if err := o.Presence.MarkOffline(ctx, id.ID); err != nil {
			logger.Error().Err(err).Msg("mark offline")
		}
		o.Registry.SendAuthenticated(core.PresenceEvent{Online: false, User: *id}, id.ID)
	}
	logger.Info().Bool("last", last).Msg("disconnected")
}

// Shutdown finalizes open recordings and cancels every connection.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.Recorder.StopAll(ctx)
	o.Registry.CancelAll()
}

// publishRoom fans ev out to the room and applies the backpressure policy
// to every member that could not keep up.
func (o *Orchestrator) publishRoom(room domain.RoomID, ev core.Event, except core.SessionID) core.PublishResult {
	res := o.Registry.SendRoom(room, ev, except)
	if o.Policy == nil {
		return res
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(string(room), slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow)).Str("room", string(room)).Msg("kicking slow member")
			o.Registry.Cancel(slow)
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
	return res
}

// Read-only queries used by the HTTP API.

func (o *Orchestrator) OnlineUsers(ctx context.Context) ([]domain.Identity, error) {
	return o.Presence.OnlineUsers(ctx)
}

func (o *Orchestrator) RoomsForUser(ctx context.Context, uid domain.UserID) ([]domain.Room, error) {
	return o.Rooms.ForUser(ctx, uid)
}

// RoomMessages pages a room's history for one of its participants.
func (o *Orchestrator) RoomMessages(ctx context.Context, reader domain.UserID, room domain.RoomID, limit, offset int) ([]domain.Message, error) {
	r, err := o.Rooms.Get(ctx, room)
	if err != nil {
		return nil, err
	}
	if !r.Has(reader) {
		return nil, domain.ErrUnauthorized
	}
	return o.Messages.Recent(ctx, room, limit, offset)
}

func (o *Orchestrator) ActiveCalls() []domain.CallSession {
	return o.Calls.ActiveCalls()
}

func (o *Orchestrator) Recordings(ctx context.Context, call domain.CallID) ([]domain.Recording, error) {
	return o.Recorder.List(ctx, call)
}

func (o *Orchestrator) ActiveRecordings() []domain.Recording {
	return o.Recorder.Active()
}
