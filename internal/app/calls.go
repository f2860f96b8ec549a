package app

import (
	"context"
	"slices"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
	"github.com/dkeye/VoiceHub/internal/metrics"
)

// DefaultRingTimeout is how long a call may ring before it times out.
const DefaultRingTimeout = 30 * time.Second

type liveCall struct {
	session domain.CallSession
	timer   *time.Timer
}

// CallManager is the call signaling state machine. A user appears in at
// most one live (ringing or accepted) call; both parties are reserved when
// the call starts ringing, so concurrent attempts resolve first-writer-wins.
type CallManager struct {
	mu     sync.Mutex
	calls  map[domain.CallID]*liveCall
	byUser map[domain.UserID]domain.CallID
	byRoom map[domain.RoomID]domain.CallID

	store     core.CallStore
	cache     core.Cache
	timeout   time.Duration
	statusTTL time.Duration
	now       func() time.Time
	onTimeout func(domain.CallSession)
}

func NewCallManager(store core.CallStore, cache core.Cache, timeout, statusTTL time.Duration) *CallManager {
	if timeout <= 0 {
		timeout = DefaultRingTimeout
	}
	return &CallManager{
		calls:     make(map[domain.CallID]*liveCall),
		byUser:    make(map[domain.UserID]domain.CallID),
		byRoom:    make(map[domain.RoomID]domain.CallID),
		store:     store,
		cache:     cache,
		timeout:   timeout,
		statusTTL: statusTTL,
		now:       time.Now,
	}
}

// OnTimeout registers the callback run after a ringing call timed out.
func (m *CallManager) OnTimeout(fn func(domain.CallSession)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTimeout = fn
}

// Begin reserves caller and callee and starts ringing.
func (m *CallManager) Begin(ctx context.Context, caller, callee domain.UserID, room domain.RoomID, typ domain.CallType) (*domain.CallSession, error) {
	if !typ.Valid() {
		typ = domain.CallAudio
	}
	m.mu.Lock()
	if _, busy := m.byUser[caller]; busy {
		m.mu.Unlock()
		return nil, domain.ErrCallInProgress.Errorf("you are already in a call")
	}
	if _, busy := m.byUser[callee]; busy {
		m.mu.Unlock()
		return nil, domain.ErrCallInProgress
	}
	if _, busy := m.byRoom[room]; busy {
		m.mu.Unlock()
		return nil, domain.ErrCallInProgress
	}
	cs := domain.CallSession{
		ID:        domain.CallID(uuid.NewString()),
		RoomID:    room,
		CallerID:  caller,
		CalleeID:  callee,
		State:     domain.CallRinging,
		Type:      typ,
		StartTime: m.now(),
	}
	m.calls[cs.ID] = &liveCall{session: cs}
	m.byUser[caller] = cs.ID
	m.byUser[callee] = cs.ID
	m.byRoom[room] = cs.ID
	m.mu.Unlock()

	if err := m.store.CreateCallSession(ctx, &cs); err != nil {
		metrics.DependencyErrors.WithLabelValues("store").Inc()
		m.mu.Lock()
		if lc, ok := m.calls[cs.ID]; ok {
			m.finishLocked(lc, domain.CallEnded)
		}
		m.mu.Unlock()
		return nil, domain.Dependency("create call session", err)
	}

	m.mu.Lock()
	if lc, ok := m.calls[cs.ID]; ok && lc.session.State == domain.CallRinging {
		id := cs.ID
		lc.timer = time.AfterFunc(m.timeout, func() { m.expire(id) })
	}
	m.mu.Unlock()

	m.cacheStatus(ctx, cs)
	log.Info().Str("module", "app.calls").Str("call", string(cs.ID)).Str("caller", string(caller)).Str("callee", string(callee)).Msg("call ringing")
	return &cs, nil
}

// Accept moves the ringing call from caller to callee into Accepted.
func (m *CallManager) Accept(ctx context.Context, callee, caller domain.UserID) (*domain.CallSession, error) {
	m.mu.Lock()
	lc := m.ringingLocked(callee, caller)
	if lc == nil {
		m.mu.Unlock()
		return nil, domain.ErrCallNotFound
	}
	if lc.timer != nil {
		lc.timer.Stop()
		lc.timer = nil
	}
	now := m.now()
	lc.session.State = domain.CallAccepted
	lc.session.AcceptedAt = &now
	cs := lc.session
	m.mu.Unlock()

	m.persist(ctx, cs)
	m.cacheStatus(ctx, cs)
	log.Info().Str("module", "app.calls").Str("call", string(cs.ID)).Msg("call accepted")
	return &cs, nil
}

// Reject ends a ringing call on the callee's behalf. It reports false
// when there is no such ringing call.
func (m *CallManager) Reject(ctx context.Context, callee, caller domain.UserID) (*domain.CallSession, bool) {
	m.mu.Lock()
	lc := m.ringingLocked(callee, caller)
	if lc == nil {
		m.mu.Unlock()
		return nil, false
	}
	cs := m.finishLocked(lc, domain.CallRejected)
	m.mu.Unlock()

	m.settle(ctx, cs)
	return &cs, true
}

// End terminates the live call of user. With a room id it only ends the
// call bound to that room. It reports false when user has no such call.
func (m *CallManager) End(ctx context.Context, user domain.UserID, room domain.RoomID) (*domain.CallSession, bool) {
	m.mu.Lock()
	id, ok := m.byUser[user]
	if room != "" {
		id, ok = m.byRoom[room]
	}
	lc := m.calls[id]
	if !ok || lc == nil || !lc.session.Has(user) {
		m.mu.Unlock()
		return nil, false
	}
	cs := m.finishLocked(lc, domain.CallEnded)
	m.mu.Unlock()

	m.settle(ctx, cs)
	return &cs, true
}

// expire is the ring timer. It only acts if the call is still ringing, so a
// timer that lost the race against Accept, Reject or End does nothing.
func (m *CallManager) expire(id domain.CallID) {
	m.mu.Lock()
	lc, ok := m.calls[id]
	if !ok || lc.session.State != domain.CallRinging {
		m.mu.Unlock()
		return
	}
	cs := m.finishLocked(lc, domain.CallTimedOut)
	fn := m.onTimeout
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.settle(ctx, cs)
	log.Info().Str("module", "app.calls").Str("call", string(id)).Msg("call timed out")
	if fn != nil {
		fn(cs)
	}
}

func (m *CallManager) ringingLocked(callee, caller domain.UserID) *liveCall {
	id, ok := m.byUser[caller]
	if !ok {
		return nil
	}
	lc := m.calls[id]
	if lc == nil || lc.session.State != domain.CallRinging || lc.session.CallerID != caller || lc.session.CalleeID != callee {
		return nil
	}
	return lc
}

func (m *CallManager) finishLocked(lc *liveCall, state domain.CallState) domain.CallSession {
	if lc.timer != nil {
		lc.timer.Stop()
		lc.timer = nil
	}
	now := m.now()
	lc.session.State = state
	lc.session.EndTime = &now
	cs := lc.session
	delete(m.calls, cs.ID)
	if m.byUser[cs.CallerID] == cs.ID {
		delete(m.byUser, cs.CallerID)
	}
	if m.byUser[cs.CalleeID] == cs.ID {
		delete(m.byUser, cs.CalleeID)
	}
	if m.byRoom[cs.RoomID] == cs.ID {
		delete(m.byRoom, cs.RoomID)
	}
	metrics.CallsFinished.WithLabelValues(string(state)).Inc()
	return cs
}

func (m *CallManager) settle(ctx context.Context, cs domain.CallSession) {
	m.persist(ctx, cs)
	if err := m.cache.Delete(ctx, callStatusKey(cs.RoomID)); err != nil {
		log.Warn().Err(err).Str("module", "app.calls").Str("call", string(cs.ID)).Msg("call status delete failed")
	}
	log.Info().Str("module", "app.calls").Str("call", string(cs.ID)).Str("state", string(cs.State)).Msg("call finished")
}

// persist writes the new state; a failure is logged and the in-memory
// transition stands.
func (m *CallManager) persist(ctx context.Context, cs domain.CallSession) {
	upd := core.CallUpdate{State: cs.State, AcceptedAt: cs.AcceptedAt, EndTime: cs.EndTime}
	if err := m.store.UpdateCallSession(ctx, cs.ID, upd); err != nil {
		metrics.DependencyErrors.WithLabelValues("store").Inc()
		log.Error().Err(err).Str("module", "app.calls").Str("call", string(cs.ID)).Msg("update call session failed")
	}
}

func (m *CallManager) cacheStatus(ctx context.Context, cs domain.CallSession) {
	b, err := json.Marshal(cs)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, callStatusKey(cs.RoomID), string(b), m.statusTTL); err != nil {
		log.Warn().Err(err).Str("module", "app.calls").Str("call", string(cs.ID)).Msg("call status write failed")
	}
}

// Active returns the live call of user, if any.
func (m *CallManager) Active(user domain.UserID) (domain.CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUser[user]
	if !ok {
		return domain.CallSession{}, false
	}
	return m.calls[id].session, true
}

func (m *CallManager) Get(id domain.CallID) (domain.CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lc, ok := m.calls[id]
	if !ok {
		return domain.CallSession{}, false
	}
	return lc.session, true
}

// ActiveCalls lists live calls, oldest first.
func (m *CallManager) ActiveCalls() []domain.CallSession {
	m.mu.Lock()
	out := make([]domain.CallSession, 0, len(m.calls))
	for _, lc := range m.calls {
		out = append(out, lc.session)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b domain.CallSession) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return out
}
