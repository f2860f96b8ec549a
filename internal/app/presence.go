package app

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
	"github.com/dkeye/VoiceHub/internal/metrics"
)

// Presence keeps the global online set and per-user profile snapshots in the shared cache.
type Presence struct {
	cache core.Cache
	ttl   time.Duration
	users *keyedMutex
}

func NewPresence(cache core.Cache, profileTTL time.Duration) *Presence {
	return &Presence{cache: cache, ttl: profileTTL, users: newKeyedMutex()}
}

// LockUser serialises the online/offline transitions of one user. Hold it
// from the registry check that decides the transition until the cache
// write that records it.
func (p *Presence) LockUser(uid domain.UserID) func() {
	return p.users.Lock(string(uid))
}

func (p *Presence) MarkOnline(ctx context.Context, id *domain.Identity) error {
	if err := p.CacheProfile(ctx, id); err != nil {
		return err
	}
	if err := p.cache.SetAdd(ctx, onlineUsersKey, string(id.ID)); err != nil {
		metrics.DependencyErrors.WithLabelValues("cache").Inc()
		return domain.Dependency("add online user", err)
	}
	return nil
}

func (p *Presence) MarkOffline(ctx context.Context, uid domain.UserID) error {
	if err := p.cache.SetRemove(ctx, onlineUsersKey, string(uid)); err != nil {
		metrics.DependencyErrors.WithLabelValues("cache").Inc()
		return domain.Dependency("remove online user", err)
	}
	return nil
}

func (p *Presence) IsOnline(ctx context.Context, uid domain.UserID) (bool, error) {
	ok, err := p.cache.SetIsMember(ctx, onlineUsersKey, string(uid))
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("cache").Inc()
		return false, domain.Dependency("check online user", err)
	}
	return ok, nil
}

func (p *Presence) CacheProfile(ctx context.Context, id *domain.Identity) error {
	b, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := p.cache.Set(ctx, userKey(id.ID), string(b), p.ttl); err != nil {
		metrics.DependencyErrors.WithLabelValues("cache").Inc()
		return domain.Dependency("cache profile", err)
	}
	return nil
}

// Profile reads a snapshot from the cache. On a miss it falls back to the
// identity held by a live local connection and re-caches it.
func (p *Presence) Profile(ctx context.Context, uid domain.UserID, live func(domain.UserID) (*domain.Identity, bool)) (*domain.Identity, bool) {
	raw, found, err := p.cache.Get(ctx, userKey(uid))
	if err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(uid)).Msg("profile lookup failed")
	}
	if found {
		var id domain.Identity
		if err := json.Unmarshal([]byte(raw), &id); err == nil {
			return &id, true
		}
	}
	if live == nil {
		return nil, false
	}
	id, ok := live(uid)
	if !ok {
		return nil, false
	}
	if err := p.CacheProfile(ctx, id); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(uid)).Msg("re-cache profile failed")
	}
	return id, true
}

// OnlineUsers hydrates the online set with one multi-get. Users whose
// snapshot expired are returned with their id only.
func (p *Presence) OnlineUsers(ctx context.Context) ([]domain.Identity, error) {
	ids, err := p.cache.SetMembers(ctx, onlineUsersKey)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("cache").Inc()
		return nil, domain.Dependency("list online users", err)
	}
	out := make([]domain.Identity, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = userKey(domain.UserID(id))
	}
	found, err := p.cache.MGet(ctx, keys...)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("cache").Inc()
		return nil, domain.Dependency("hydrate online users", err)
	}
	for i, id := range ids {
		ident := domain.Identity{ID: domain.UserID(id), DisplayName: id}
		if raw, ok := found[keys[i]]; ok {
			if err := json.Unmarshal([]byte(raw), &ident); err != nil {
				log.Warn().Err(err).Str("module", "app.presence").Str("user", id).Msg("bad profile snapshot")
			}
		}
		out = append(out, ident)
	}
	metrics.OnlineUsers.Set(float64(len(out)))
	return out, nil
}
