package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
	"github.com/dkeye/VoiceHub/internal/metrics"
)

// RoomResolver maps an unordered pair of users to their single room.
type RoomResolver struct {
	store core.RoomStore
	cache core.Cache
	ttl   time.Duration
	group singleflight.Group
}

func NewRoomResolver(store core.RoomStore, cache core.Cache, ttl time.Duration) *RoomResolver {
	return &RoomResolver{store: store, cache: cache, ttl: ttl}
}

// Resolve returns the room of a and b, creating it on first contact.
// Concurrent resolutions of one pair in this process share a single
// lookup; across processes the store's create-if-absent keeps one row.
func (r *RoomResolver) Resolve(ctx context.Context, a, b domain.UserID) (*domain.Room, error) {
	if a == "" || b == "" {
		return nil, domain.ErrBadPayload.Errorf("participant id required")
	}
	if a == b {
		return nil, domain.ErrBadPayload.Errorf("cannot open a room with yourself")
	}
	a, b = domain.CanonicalPair(a, b)
	key := roomBetweenKey(a, b)

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.resolve(ctx, key, a, b)
	})
	if err != nil {
		return nil, err
	}
	room := *v.(*domain.Room)
	return &room, nil
}

func (r *RoomResolver) resolve(ctx context.Context, key string, a, b domain.UserID) (*domain.Room, error) {
	logger := log.With().Str("module", "app.rooms").Str("a", string(a)).Str("b", string(b)).Logger()

	id, found, err := r.cache.Get(ctx, key)
	if err != nil {
		logger.Warn().Err(err).Msg("room cache lookup failed, falling back to store")
	}
	if found {
		room, err := r.store.GetRoom(ctx, domain.RoomID(id))
		if err != nil {
			metrics.DependencyErrors.WithLabelValues("store").Inc()
			return nil, domain.Dependency("get room", err)
		}
		if room != nil && room.Has(a) && room.Has(b) {
			return room, nil
		}
		logger.Warn().Str("room", id).Msg("stale room cache entry")
	}

	room, err := r.store.FindRoom(ctx, a, b)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("store").Inc()
		return nil, domain.Dependency("find room", err)
	}
	if room == nil {
		room, err = r.store.CreateRoom(ctx, a, b)
		if err != nil {
			metrics.DependencyErrors.WithLabelValues("store").Inc()
			return nil, domain.Dependency("create room", err)
		}
		logger.Info().Str("room", string(room.ID)).Msg("room created")
	}

	if err := r.cache.Set(ctx, key, string(room.ID), r.ttl); err != nil {
		logger.Warn().Err(err).Msg("room cache write failed")
	}
	return room, nil
}

// Get loads a room by id or fails with ErrRoomNotFound.
func (r *RoomResolver) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room, err := r.store.GetRoom(ctx, id)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("store").Inc()
		return nil, domain.Dependency("get room", err)
	}
	if room == nil {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (r *RoomResolver) ForUser(ctx context.Context, uid domain.UserID) ([]domain.Room, error) {
	rooms, err := r.store.ListRoomsForUser(ctx, uid)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("store").Inc()
		return nil, domain.Dependency("list rooms", err)
	}
	return rooms, nil
}

func (r *RoomResolver) AddParticipant(ctx context.Context, id domain.RoomID, uid domain.UserID) error {
	if err := r.cache.SetAdd(ctx, roomParticipantsKey(id), string(uid)); err != nil {
		metrics.DependencyErrors.WithLabelValues("cache").Inc()
		return domain.Dependency("add room participant", err)
	}
	return nil
}

func (r *RoomResolver) RemoveParticipant(ctx context.Context, id domain.RoomID, uid domain.UserID) error {
	if err := r.cache.SetRemove(ctx, roomParticipantsKey(id), string(uid)); err != nil {
		metrics.DependencyErrors.WithLabelValues("cache").Inc()
		return domain.Dependency("remove room participant", err)
	}
	return nil
}

func (r *RoomResolver) Participants(ctx context.Context, id domain.RoomID) ([]domain.UserID, error) {
	raw, err := r.cache.SetMembers(ctx, roomParticipantsKey(id))
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("cache").Inc()
		return nil, domain.Dependency("list room participants", err)
	}
	out := make([]domain.UserID, len(raw))
	for i, s := range raw {
		out[i] = domain.UserID(s)
	}
	return out, nil
}
