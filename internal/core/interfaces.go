package core

import (
	"context"
	"io"
	"time"

	"github.com/dkeye/VoiceHub/internal/domain"
)

// RoomStore is the durable side of room resolution.
type RoomStore interface {
	// CreateRoom is create-if-absent on the canonical pair: a concurrent
	// or repeated call returns the existing row.
	CreateRoom(ctx context.Context, a, b domain.UserID) (*domain.Room, error)
	// FindRoom returns nil, nil when the pair never interacted.
	FindRoom(ctx context.Context, a, b domain.UserID) (*domain.Room, error)
	// GetRoom returns nil, nil when no such room exists.
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	ListRoomsForUser(ctx context.Context, user domain.UserID) ([]domain.Room, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, room domain.RoomID, sender domain.UserID, content string) (*domain.Message, error)
	// ListMessages is ordered newest first.
	ListMessages(ctx context.Context, room domain.RoomID, limit, offset int) ([]domain.Message, error)
}

// CallUpdate holds the mutable fields of a call session row.
type CallUpdate struct {
	State      domain.CallState
	AcceptedAt *time.Time
	EndTime    *time.Time
}

type CallStore interface {
	CreateCallSession(ctx context.Context, cs *domain.CallSession) error
	UpdateCallSession(ctx context.Context, id domain.CallID, upd CallUpdate) error
	GetCallSession(ctx context.Context, id domain.CallID) (*domain.CallSession, error)
}

type RecordingStore interface {
	CreateRecording(ctx context.Context, rec *domain.Recording) error
	FinishRecording(ctx context.Context, id domain.RecordingID, end time.Time) error
	GetRecording(ctx context.Context, id domain.RecordingID) (*domain.Recording, error)
	// ListRecordings lists newest first; an empty call id lists all.
	ListRecordings(ctx context.Context, call domain.CallID) ([]domain.Recording, error)
}

// Store is the durable relational store. It is the only source of truth.
type Store interface {
	RoomStore
	MessageStore
	CallStore
	RecordingStore
	Ping(ctx context.Context) error
	Close()
}

// Cache is the shared low-latency cache. Everything in it is a projection
// of the Store or of live connections and may be lost at any time.
type Cache interface {
	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetIsMember(ctx context.Context, key, member string) (bool, error)

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// MGet returns only the keys that were found.
	MGet(ctx context.Context, keys ...string) (map[string]string, error)

	// ListPushIfExists prepends value and trims the list to maxLen in one
	// step. A missing list stays missing.
	ListPushIfExists(ctx context.Context, key, value string, maxLen int64) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// ListReplace swaps the whole list for values (newest first) in one step.
	ListReplace(ctx context.Context, key string, values []string, maxLen int64) error

	Ping(ctx context.Context) error
	Close() error
}

//go:generate mockgen -destination=mocks/mock_identity.go -package=mocks . IdentityVerifier

// IdentityVerifier resolves a token into an identity through the remote
// identity service. Invalid tokens yield domain.ErrAuth.
type IdentityVerifier interface {
	VerifyToken(ctx context.Context, token, role string) (*domain.Identity, error)
}

// Sink is an append-only byte destination for recorded chunks.
type Sink interface {
	io.WriteCloser
}

type SinkFactory interface {
	// Open creates the sink for one recording of a call session and
	// returns it with the path it is stored under.
	Open(call domain.CallID, rec domain.RecordingID) (Sink, string, error)
}
