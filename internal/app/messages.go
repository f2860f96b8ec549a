package app

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
	"github.com/dkeye/VoiceHub/internal/metrics"
)

// DefaultRecentMessages is the length of the per-room recent message cache.
const DefaultRecentMessages = 1000

// MessagePipeline persists, caches and fans out chat messages.
// Messages of one room pass through it one at a time.
type MessagePipeline struct {
	store  core.MessageStore
	cache  core.Cache
	recent int
	rooms  *keyedMutex
}

func NewMessagePipeline(store core.MessageStore, cache core.Cache, recent int) *MessagePipeline {
	if recent <= 0 {
		recent = DefaultRecentMessages
	}
	return &MessagePipeline{store: store, cache: cache, recent: recent, rooms: newKeyedMutex()}
}

// Accept stores a message and hands it to deliver while still holding the
// room's lock, so that delivery order equals acceptance order per room.
// The recent cache only grows once a read has filled it from the store.
// A cache failure after the message was persisted is logged, not returned.
func (p *MessagePipeline) Accept(ctx context.Context, room domain.RoomID, sender domain.UserID, content string, deliver func(*domain.Message)) (*domain.Message, error) {
	unlock := p.rooms.Lock(string(room))
	defer unlock()

	msg, err := p.store.CreateMessage(ctx, room, sender, content)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("store").Inc()
		return nil, domain.Dependency("create message", err)
	}
	metrics.MessagesSent.Inc()

	if b, err := json.Marshal(msg); err == nil {
		if err := p.cache.ListPushIfExists(ctx, roomMessagesKey(room), string(b), int64(p.recent)); err != nil {
			metrics.DependencyErrors.WithLabelValues("cache").Inc()
			log.Warn().Err(err).Str("module", "app.messages").Str("room", string(room)).Msg("recent cache push failed")
		}
	}

	if deliver != nil {
		deliver(msg)
	}
	return msg, nil
}

// Recent returns a page newest first. The first page is served from the
// recent cache; on a miss the store answers and the cache is repopulated
// with the whole recent window.
func (p *MessagePipeline) Recent(ctx context.Context, room domain.RoomID, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	if offset == 0 && limit <= p.recent {
		if msgs, ok := p.fromCache(ctx, room, limit); ok {
			return msgs, nil
		}
		return p.repopulate(ctx, room, limit)
	}
	msgs, err := p.store.ListMessages(ctx, room, limit, offset)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("store").Inc()
		return nil, domain.Dependency("list messages", err)
	}
	return msgs, nil
}

func (p *MessagePipeline) fromCache(ctx context.Context, room domain.RoomID, limit int) ([]domain.Message, bool) {
	raw, err := p.cache.ListRange(ctx, roomMessagesKey(room), 0, int64(limit-1))
	if err != nil {
		log.Warn().Err(err).Str("module", "app.messages").Str("room", string(room)).Msg("recent cache read failed")
		return nil, false
	}
	if len(raw) == 0 {
		return nil, false
	}
	out := make([]domain.Message, 0, len(raw))
	for _, s := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			log.Warn().Err(err).Str("module", "app.messages").Str("room", string(room)).Msg("bad cached message, reading store")
			return nil, false
		}
		out = append(out, m)
	}
	return out, true
}

func (p *MessagePipeline) repopulate(ctx context.Context, room domain.RoomID, limit int) ([]domain.Message, error) {
	unlock := p.rooms.Lock(string(room))
	defer unlock()

	msgs, err := p.store.ListMessages(ctx, room, p.recent, 0)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("store").Inc()
		return nil, domain.Dependency("list messages", err)
	}
	if len(msgs) > 0 {
		values := make([]string, 0, len(msgs))
		for i := range msgs {
			b, err := json.Marshal(&msgs[i])
			if err != nil {
				continue
			}
			values = append(values, string(b))
		}
		if err := p.cache.ListReplace(ctx, roomMessagesKey(room), values, int64(p.recent)); err != nil {
			metrics.DependencyErrors.WithLabelValues("cache").Inc()
			log.Warn().Err(err).Str("module", "app.messages").Str("room", string(room)).Msg("recent cache repopulate failed")
		}
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// MarkRead records uid as a reader of the message and returns all readers.
func (p *MessagePipeline) MarkRead(ctx context.Context, id domain.MessageID, uid domain.UserID) ([]domain.UserID, error) {
	key := messageReadByKey(id)
	if err := p.cache.SetAdd(ctx, key, string(uid)); err != nil {
		metrics.DependencyErrors.WithLabelValues("cache").Inc()
		return nil, domain.Dependency("mark message read", err)
	}
	raw, err := p.cache.SetMembers(ctx, key)
	if err != nil {
		metrics.DependencyErrors.WithLabelValues("cache").Inc()
		return nil, domain.Dependency("list message readers", err)
	}
	out := make([]domain.UserID, len(raw))
	for i, s := range raw {
		out[i] = domain.UserID(s)
	}
	return out, nil
}
