package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id            TEXT PRIMARY KEY,
	participant_a TEXT NOT NULL,
	participant_b TEXT NOT NULL,
	is_private    BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (participant_a, participant_b)
);
CREATE INDEX IF NOT EXISTS idx_rooms_participant_b ON rooms(participant_b);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL REFERENCES rooms(id),
	sender_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS call_sessions (
	id          TEXT PRIMARY KEY,
	room_id     TEXT NOT NULL REFERENCES rooms(id),
	caller_id   TEXT NOT NULL,
	callee_id   TEXT NOT NULL,
	state       TEXT NOT NULL,
	call_type   TEXT NOT NULL,
	start_time  TIMESTAMPTZ NOT NULL,
	accepted_at TIMESTAMPTZ,
	end_time    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS recordings (
	id              TEXT PRIMARY KEY,
	call_session_id TEXT NOT NULL,
	file_path       TEXT NOT NULL,
	start_time      TIMESTAMPTZ NOT NULL,
	end_time        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_recordings_call ON recordings(call_session_id);
`

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and bootstraps the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Str("module", "store.postgres").Msg("schema ready")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const roomColumns = `id, participant_a, participant_b, is_private, created_at, updated_at`

func scanRoom(row pgx.Row) (*domain.Room, error) {
	r := &domain.Room{}
	err := row.Scan(&r.ID, &r.ParticipantA, &r.ParticipantB, &r.IsPrivate, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// CreateRoom inserts the canonical pair or returns the row that won.
func (s *PostgresStore) CreateRoom(ctx context.Context, a, b domain.UserID) (*domain.Room, error) {
	a, b = domain.CanonicalPair(a, b)
	return scanRoom(s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, participant_a, participant_b, is_private)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (participant_a, participant_b) DO UPDATE SET updated_at = rooms.updated_at
		RETURNING `+roomColumns, newRoomID(), a, b))
}

func (s *PostgresStore) FindRoom(ctx context.Context, a, b domain.UserID) (*domain.Room, error) {
	a, b = domain.CanonicalPair(a, b)
	return scanRoom(s.pool.QueryRow(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE participant_a = $1 AND participant_b = $2
	`, a, b))
}

func (s *PostgresStore) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
}

func (s *PostgresStore) ListRoomsForUser(ctx context.Context, user domain.UserID) ([]domain.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY updated_at DESC
	`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []domain.Room{}
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

func (s *PostgresStore) CreateMessage(ctx context.Context, room domain.RoomID, sender domain.UserID, content string) (*domain.Message, error) {
	m := &domain.Message{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, room_id, sender_id, content, created_at
	`, newMessageID(), room, sender, content).Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `UPDATE rooms SET updated_at = now() WHERE id = $1`, room); err != nil {
		log.Warn().Err(err).Str("module", "store.postgres").Str("room", string(room)).Msg("touch room")
	}
	return m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, room domain.RoomID, limit, offset int) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, sender_id, content, created_at FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, room, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) CreateCallSession(ctx context.Context, cs *domain.CallSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_sessions (id, room_id, caller_id, callee_id, state, call_type, start_time, accepted_at, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, cs.ID, cs.RoomID, cs.CallerID, cs.CalleeID, cs.State, cs.Type, cs.StartTime, cs.AcceptedAt, cs.EndTime)
	return err
}

// UpdateCallSession sets state and fills accepted_at/end_time once.
func (s *PostgresStore) UpdateCallSession(ctx context.Context, id domain.CallID, upd core.CallUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE call_sessions
		SET state = $2,
		    accepted_at = COALESCE(accepted_at, $3),
		    end_time = COALESCE(end_time, $4)
		WHERE id = $1
	`, id, upd.State, upd.AcceptedAt, upd.EndTime)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCallNotFound
	}
	return nil
}

func (s *PostgresStore) GetCallSession(ctx context.Context, id domain.CallID) (*domain.CallSession, error) {
	cs := &domain.CallSession{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, room_id, caller_id, callee_id, state, call_type, start_time, accepted_at, end_time
		FROM call_sessions WHERE id = $1
	`, id).Scan(&cs.ID, &cs.RoomID, &cs.CallerID, &cs.CalleeID, &cs.State, &cs.Type, &cs.StartTime, &cs.AcceptedAt, &cs.EndTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return cs, nil
}

func (s *PostgresStore) CreateRecording(ctx context.Context, rec *domain.Recording) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recordings (id, call_session_id, file_path, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.CallSessionID, rec.FilePath, rec.StartTime, rec.EndTime)
	return err
}

func (s *PostgresStore) FinishRecording(ctx context.Context, id domain.RecordingID, end time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE recordings SET end_time = COALESCE(end_time, $2) WHERE id = $1`, id, end)
	return err
}

func scanRecording(row pgx.Row) (*domain.Recording, error) {
	rec := &domain.Recording{}
	if err := row.Scan(&rec.ID, &rec.CallSessionID, &rec.FilePath, &rec.StartTime, &rec.EndTime); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) GetRecording(ctx context.Context, id domain.RecordingID) (*domain.Recording, error) {
	rec, err := scanRecording(s.pool.QueryRow(ctx, `
		SELECT id, call_session_id, file_path, start_time, end_time FROM recordings WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *PostgresStore) ListRecordings(ctx context.Context, call domain.CallID) ([]domain.Recording, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, call_session_id, file_path, start_time, end_time FROM recordings
		WHERE $1 = '' OR call_session_id = $1
		ORDER BY start_time DESC
	`, call)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []domain.Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}
