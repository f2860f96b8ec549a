package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/dkeye/VoiceHub/internal/core"
	"github.com/dkeye/VoiceHub/internal/domain"
)

// Times are stored as unix milliseconds.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id            TEXT PRIMARY KEY,
	participant_a TEXT NOT NULL,
	participant_b TEXT NOT NULL,
	is_private    INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	UNIQUE (participant_a, participant_b)
);
CREATE INDEX IF NOT EXISTS idx_rooms_participant_b ON rooms(participant_b);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL REFERENCES rooms(id),
	sender_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS call_sessions (
	id          TEXT PRIMARY KEY,
	room_id     TEXT NOT NULL REFERENCES rooms(id),
	caller_id   TEXT NOT NULL,
	callee_id   TEXT NOT NULL,
	state       TEXT NOT NULL,
	call_type   TEXT NOT NULL,
	start_time  INTEGER NOT NULL,
	accepted_at INTEGER,
	end_time    INTEGER
);

CREATE TABLE IF NOT EXISTS recordings (
	id              TEXT PRIMARY KEY,
	call_session_id TEXT NOT NULL,
	file_path       TEXT NOT NULL,
	start_time      INTEGER NOT NULL,
	end_time        INTEGER
);
CREATE INDEX IF NOT EXISTS idx_recordings_call ON recordings(call_session_id);
`

// SQLiteStore is the embedded single-node store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens dsn (a path or a file: URI) in WAL mode and
// bootstraps the schema.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "./data/voicehub.db"
	}
	path := strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:")
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer avoids SQLITE_BUSY under concurrent sends
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Str("module", "store.sqlite").Str("path", path).Msg("schema ready")
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		log.Warn().Err(err).Str("module", "store.sqlite").Msg("close")
	}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRoom(row rowScanner) (*domain.Room, error) {
	var (
		r                domain.Room
		a, b             string
		private          int
		created, updated int64
	)
	if err := row.Scan(&r.ID, &a, &b, &private, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.ParticipantA, r.ParticipantB = domain.UserID(a), domain.UserID(b)
	r.IsPrivate = private != 0
	r.CreatedAt, r.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &r, nil
}

// CreateRoom inserts the canonical pair if absent and reads back the row.
func (s *SQLiteStore) CreateRoom(ctx context.Context, a, b domain.UserID) (*domain.Room, error) {
	a, b = domain.CanonicalPair(a, b)
	now := millis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, participant_a, participant_b, is_private, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (participant_a, participant_b) DO NOTHING
	`, string(newRoomID()), string(a), string(b), now, now)
	if err != nil {
		return nil, err
	}
	return s.FindRoom(ctx, a, b)
}

func (s *SQLiteStore) FindRoom(ctx context.Context, a, b domain.UserID) (*domain.Room, error) {
	a, b = domain.CanonicalPair(a, b)
	return scanSQLiteRoom(s.db.QueryRowContext(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE participant_a = ? AND participant_b = ?
	`, string(a), string(b)))
}

func (s *SQLiteStore) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return scanSQLiteRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, string(id)))
}

func (s *SQLiteStore) ListRoomsForUser(ctx context.Context, user domain.UserID) ([]domain.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY updated_at DESC
	`, string(user), string(user))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []domain.Room{}
	for rows.Next() {
		r, err := scanSQLiteRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, room domain.RoomID, sender domain.UserID, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:        newMessageID(),
		RoomID:    room,
		SenderID:  sender,
		Content:   content,
		CreatedAt: fromMillis(millis(s.now())),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content, created_at) VALUES (?, ?, ?, ?, ?)
	`, string(m.ID), string(room), string(sender), content, millis(m.CreatedAt))
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE rooms SET updated_at = ? WHERE id = ?`, millis(m.CreatedAt), string(room)); err != nil {
		log.Warn().Err(err).Str("module", "store.sqlite").Str("room", string(room)).Msg("touch room")
	}
	return m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, room domain.RoomID, limit, offset int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender_id, content, created_at FROM messages
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, string(room), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			m               domain.Message
			id, rid, sender string
			created         int64
		)
		if err := rows.Scan(&id, &rid, &sender, &m.Content, &created); err != nil {
			return nil, err
		}
		m.ID, m.RoomID, m.SenderID = domain.MessageID(id), domain.RoomID(rid), domain.UserID(sender)
		m.CreatedAt = fromMillis(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) CreateCallSession(ctx context.Context, cs *domain.CallSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_sessions (id, room_id, caller_id, callee_id, state, call_type, start_time, accepted_at, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(cs.ID), string(cs.RoomID), string(cs.CallerID), string(cs.CalleeID), string(cs.State), string(cs.Type),
		millis(cs.StartTime), nullMillis(cs.AcceptedAt), nullMillis(cs.EndTime))
	return err
}

func (s *SQLiteStore) UpdateCallSession(ctx context.Context, id domain.CallID, upd core.CallUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_sessions
		SET state = ?, accepted_at = COALESCE(accepted_at, ?), end_time = COALESCE(end_time, ?)
		WHERE id = ?
	`, string(upd.State), nullMillis(upd.AcceptedAt), nullMillis(upd.EndTime), string(id))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrCallNotFound
	}
	return nil
}

func (s *SQLiteStore) GetCallSession(ctx context.Context, id domain.CallID) (*domain.CallSession, error) {
	var (
		cs                                 domain.CallSession
		cid, room, caller, callee, st, typ string
		start                              int64
		accepted, end                      sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, caller_id, callee_id, state, call_type, start_time, accepted_at, end_time
		FROM call_sessions WHERE id = ?
	`, string(id)).Scan(&cid, &room, &caller, &callee, &st, &typ, &start, &accepted, &end)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cs.ID, cs.RoomID = domain.CallID(cid), domain.RoomID(room)
	cs.CallerID, cs.CalleeID = domain.UserID(caller), domain.UserID(callee)
	cs.State, cs.Type = domain.CallState(st), domain.CallType(typ)
	cs.StartTime = fromMillis(start)
	cs.AcceptedAt, cs.EndTime = fromNullMillis(accepted), fromNullMillis(end)
	return &cs, nil
}

func (s *SQLiteStore) CreateRecording(ctx context.Context, rec *domain.Recording) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, call_session_id, file_path, start_time, end_time) VALUES (?, ?, ?, ?, ?)
	`, string(rec.ID), string(rec.CallSessionID), rec.FilePath, millis(rec.StartTime), nullMillis(rec.EndTime))
	return err
}

func (s *SQLiteStore) FinishRecording(ctx context.Context, id domain.RecordingID, end time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE recordings SET end_time = COALESCE(end_time, ?) WHERE id = ?`, millis(end), string(id))
	return err
}

func scanSQLiteRecording(row rowScanner) (*domain.Recording, error) {
	var (
		rec      domain.Recording
		id, call string
		start    int64
		end      sql.NullInt64
	)
	if err := row.Scan(&id, &call, &rec.FilePath, &start, &end); err != nil {
		return nil, err
	}
	rec.ID, rec.CallSessionID = domain.RecordingID(id), domain.CallID(call)
	rec.StartTime, rec.EndTime = fromMillis(start), fromNullMillis(end)
	return &rec, nil
}

func (s *SQLiteStore) GetRecording(ctx context.Context, id domain.RecordingID) (*domain.Recording, error) {
	rec, err := scanSQLiteRecording(s.db.QueryRowContext(ctx, `
		SELECT id, call_session_id, file_path, start_time, end_time FROM recordings WHERE id = ?
	`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) ListRecordings(ctx context.Context, call domain.CallID) ([]domain.Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_session_id, file_path, start_time, end_time FROM recordings
		WHERE ? = '' OR call_session_id = ?
		ORDER BY start_time DESC
	`, string(call), string(call))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []domain.Recording{}
	for rows.Next() {
		rec, err := scanSQLiteRecording(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}
