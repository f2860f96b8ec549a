package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
	"github.com/dkeye/VoiceHub/internal/metrics"
)

type sessionEntry struct {
	Conn     core.SignalConnection
	Identity *domain.Identity
	RoomID   domain.RoomID
	CallID   domain.CallID
	Cancel   context.CancelFunc
}

// Registry is the Connection Registry: the only owner of live connections,
// the identity bound to each of them and the room/call they take part in.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[domain.UserID]map[core.SessionID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[domain.UserID]map[core.SessionID]struct{}),
	}
}

func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Conn: conn, Cancel: cancel}
	metrics.Connections.Inc()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

// SessionSnapshot is a copy of a registry entry taken under lock.
type SessionSnapshot struct {
	SID      core.SessionID
	Identity *domain.Identity
	RoomID   domain.RoomID
	CallID   domain.CallID
}

// Unbind removes the connection and returns what it held. The bool is
// false if sid was already gone, which makes disconnect idempotent.
func (r *Registry) Unbind(sid core.SessionID) (SessionSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return SessionSnapshot{}, false
	}
	delete(r.sessions, sid)
	if e.Identity != nil {
		if set := r.users[e.Identity.ID]; set != nil {
			delete(set, sid)
			if len(set) == 0 {
				delete(r.users, e.Identity.ID)
			}
		}
	}
	metrics.Connections.Dec()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return SessionSnapshot{SID: sid, Identity: e.Identity, RoomID: e.RoomID, CallID: e.CallID}, true
}

// BindIdentity sets the identity of a connection exactly once. Re-binding
// the same user is a no-op; binding a different user is refused.
// It reports whether this is the user's first authenticated connection.
func (r *Registry) BindIdentity(sid core.SessionID, id *domain.Identity) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false, domain.ErrNotAuthenticated.Errorf("connection is gone")
	}
	if e.Identity != nil {
		if e.Identity.ID != id.ID {
			return false, domain.ErrUnauthorized.Errorf("connection already authenticated as another user")
		}
		return false, nil
	}
	e.Identity = id.Clone()
	set := r.users[id.ID]
	if set == nil {
		set = make(map[core.SessionID]struct{})
		r.users[id.ID] = set
	}
	set[sid] = struct{}{}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(id.ID)).Msg("bound identity")
	return len(set) == 1, nil
}

// Identity returns the identity bound to sid or ErrNotAuthenticated.
func (r *Registry) Identity(sid core.SessionID) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Identity == nil {
		return nil, domain.ErrNotAuthenticated
	}
	return e.Identity, nil
}

// IdentityOfUser returns the identity of any live connection of uid.
func (r *Registry) IdentityOfUser(uid domain.UserID) (*domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sid := range r.users[uid] {
		if e := r.sessions[sid]; e != nil && e.Identity != nil {
			return e.Identity, true
		}
	}
	return nil, false
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.RoomID == "" {
		return "", false
	}
	return entry.RoomID, true
}

// UpdateRoom switches the connection's single active room and returns the previous one.
func (r *Registry) UpdateRoom(sid core.SessionID, newRoom domain.RoomID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return "", false
	}
	prev := entry.RoomID
	entry.RoomID = newRoom
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(newRoom)).Msg("updated room")
	return prev, true
}

// RemoveRoom clears the room association and returns it.
func (r *Registry) RemoveRoom(sid core.SessionID) (domain.RoomID, bool) {
	return r.UpdateRoom(sid, "")
}

func (r *Registry) SetCall(sid core.SessionID, call domain.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok {
		entry.CallID = call
	}
}

// ClearCall drops the association with call from every connection holding it.
func (r *Registry) ClearCall(call domain.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.sessions {
		if e.CallID == call {
			e.CallID = ""
		}
	}
}

func (r *Registry) SessionsOf(uid domain.UserID) []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SessionID, 0, len(r.users[uid]))
	for sid := range r.users[uid] {
		out = append(out, sid)
	}
	return out
}

func (r *Registry) IsConnected(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[uid]) > 0
}

func (r *Registry) MembersOfRoom(id domain.RoomID) []SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionSnapshot, 0)
	for sid, e := range r.sessions {
		if e.RoomID == id {
			out = append(out, SessionSnapshot{SID: sid, Identity: e.Identity, RoomID: e.RoomID, CallID: e.CallID})
		}
	}
	return out
}

// Snapshot lists every connection; used by read-only admin queries.
func (r *Registry) Snapshot() []SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionSnapshot, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, SessionSnapshot{SID: sid, Identity: e.Identity, RoomID: e.RoomID, CallID: e.CallID})
	}
	return out
}

func (r *Registry) conn(sid core.SessionID) core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Conn
	}
	return nil
}

// Send encodes ev and queues it on one connection. A connection that is
// already gone is not an error: delivery is best effort.
func (r *Registry) Send(sid core.SessionID, ev core.Event) error {
	conn := r.conn(sid)
	if conn == nil {
		return nil
	}
	frame, err := core.EncodeEvent(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("event", ev.EventType()).Msg("encode event")
		return err
	}
	if err := conn.TrySend(frame); err != nil {
		metrics.EventsDropped.WithLabelValues(ev.EventType()).Inc()
		log.Warn().Err(err).Str("module", "app.registry").Str("sid", string(sid)).Str("event", ev.EventType()).Msg("send dropped")
		return err
	}
	return nil
}

func (r *Registry) sendMany(sids []core.SessionID, ev core.Event) core.PublishResult {
	res := core.PublishResult{}
	for _, sid := range sids {
		if err := r.Send(sid, ev); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	return res
}

// SendUser fans ev out to every connection of uid.
func (r *Registry) SendUser(uid domain.UserID, ev core.Event) core.PublishResult {
	return r.sendMany(r.SessionsOf(uid), ev)
}

// SendUserExcept fans ev out to every connection of uid but one.
func (r *Registry) SendUserExcept(uid domain.UserID, ev core.Event, except core.SessionID) core.PublishResult {
	sids := r.SessionsOf(uid)
	out := sids[:0]
	for _, sid := range sids {
		if sid != except {
			out = append(out, sid)
		}
	}
	return r.sendMany(out, ev)
}

// SendRoom fans ev out to every connection joined to the room, except one.
func (r *Registry) SendRoom(id domain.RoomID, ev core.Event, except core.SessionID) core.PublishResult {
	members := r.MembersOfRoom(id)
	sids := make([]core.SessionID, 0, len(members))
	for _, m := range members {
		if m.SID != except {
			sids = append(sids, m.SID)
		}
	}
	res := r.sendMany(sids, ev)
	log.Debug().Str("module", "app.registry").Str("room", string(id)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendAuthenticated fans ev out to every authenticated connection except those of one user.
func (r *Registry) SendAuthenticated(ev core.Event, exceptUser domain.UserID) core.PublishResult {
	r.mu.RLock()
	sids := make([]core.SessionID, 0, len(r.sessions))
	for uid, set := range r.users {
		if uid == exceptUser {
			continue
		}
		for sid := range set {
			sids = append(sids, sid)
		}
	}
	r.mu.RUnlock()
	return r.sendMany(sids, ev)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

// CancelAll cancels every live connection; used on shutdown.
func (r *Registry) CancelAll() {
	for _, s := range r.Snapshot() {
		r.Cancel(s.SID)
	}
}
