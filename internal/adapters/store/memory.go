package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

type pairKey struct{ a, b domain.UserID }

// MemoryStore keeps everything in process. It backs dev mode and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	rooms      map[domain.RoomID]domain.Room
	byPair     map[pairKey]domain.RoomID
	messages   map[domain.RoomID][]domain.Message // oldest first
	calls      map[domain.CallID]domain.CallSession
	recordings map[domain.RecordingID]domain.Recording
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:      make(map[domain.RoomID]domain.Room),
		byPair:     make(map[pairKey]domain.RoomID),
		messages:   make(map[domain.RoomID][]domain.Message),
		calls:      make(map[domain.CallID]domain.CallSession),
		recordings: make(map[domain.RecordingID]domain.Recording),
		now:        time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) CreateRoom(_ context.Context, a, b domain.UserID) (*domain.Room, error) {
	a, b = domain.CanonicalPair(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[pairKey{a, b}]; ok {
		r := s.rooms[id]
		return &r, nil
	}
	now := s.now()
	r := domain.Room{ID: newRoomID(), ParticipantA: a, ParticipantB: b, IsPrivate: true, CreatedAt: now, UpdatedAt: now}
	s.rooms[r.ID] = r
	s.byPair[pairKey{a, b}] = r.ID
	return &r, nil
}

func (s *MemoryStore) FindRoom(_ context.Context, a, b domain.UserID) (*domain.Room, error) {
	a, b = domain.CanonicalPair(a, b)
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[pairKey{a, b}]
	if !ok {
		return nil, nil
	}
	r := s.rooms[id]
	return &r, nil
}

func (s *MemoryStore) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *MemoryStore) ListRoomsForUser(_ context.Context, user domain.UserID) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := []domain.Room{}
	for _, r := range s.rooms {
		if r.Has(user) {
			rooms = append(rooms, r)
		}
	}
	slices.SortFunc(rooms, func(x, y domain.Room) int { return y.UpdatedAt.Compare(x.UpdatedAt) })
	return rooms, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, room domain.RoomID, sender domain.UserID, content string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[room]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	m := domain.Message{ID: newMessageID(), RoomID: room, SenderID: sender, Content: content, CreatedAt: s.now()}
	s.messages[room] = append(s.messages[room], m)
	r.UpdatedAt = m.CreatedAt
	s.rooms[room] = r
	return &m, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, room domain.RoomID, limit, offset int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[room]
	out := []domain.Message{}
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) CreateCallSession(_ context.Context, cs *domain.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[cs.ID] = *cs
	return nil
}

func (s *MemoryStore) UpdateCallSession(_ context.Context, id domain.CallID, upd core.CallUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.calls[id]
	if !ok {
		return domain.ErrCallNotFound
	}
	cs.State = upd.State
	if cs.AcceptedAt == nil && upd.AcceptedAt != nil {
		t := *upd.AcceptedAt
		cs.AcceptedAt = &t
	}
	if cs.EndTime == nil && upd.EndTime != nil {
		t := *upd.EndTime
		cs.EndTime = &t
	}
	s.calls[id] = cs
	return nil
}

func (s *MemoryStore) GetCallSession(_ context.Context, id domain.CallID) (*domain.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.calls[id]
	if !ok {
		return nil, nil
	}
	return &cs, nil
}

func (s *MemoryStore) CreateRecording(_ context.Context, rec *domain.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[rec.ID] = *rec
	return nil
}

func (s *MemoryStore) FinishRecording(_ context.Context, id domain.RecordingID, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[id]
	if !ok || rec.EndTime != nil {
		return nil
	}
	rec.EndTime = &end
	s.recordings[id] = rec
	return nil
}

func (s *MemoryStore) GetRecording(_ context.Context, id domain.RecordingID) (*domain.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recordings[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) ListRecordings(_ context.Context, call domain.CallID) ([]domain.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := []domain.Recording{}
	for _, rec := range s.recordings {
		if call == "" || rec.CallSessionID == call {
			recs = append(recs, rec)
		}
	}
	slices.SortFunc(recs, func(x, y domain.Recording) int { return y.StartTime.Compare(x.StartTime) })
	return recs, nil
}
