package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

// Open returns the durable store selected by driver: memory, sqlite or postgres.
func Open(ctx context.Context, driver, dsn string) (core.Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(ctx, dsn)
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

func newRoomID() domain.RoomID { return domain.RoomID(uuid.NewString()) }

// Message ids sort by creation time.
func newMessageID() domain.MessageID { return domain.MessageID(ulid.Make().String()) }
