package state

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/azaman/internal/llm"
	"github.com/nugget/azaman/internal/tools"
)

// SQLiteStore keeps one gzip-compressed JSON snapshot per saved
// version. Older versions stay addressable until pruned.
type SQLiteStore struct {
	db   *sql.DB
	keep int
}

// NewSQLiteStore opens (or creates) the state database at dbPath.
// keep bounds how many versions are retained per thread; zero keeps all.
func NewSQLiteStore(dbPath string, keep int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db, keep: keep}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_states (
			thread_id     TEXT NOT NULL,
			version       INTEGER NOT NULL,
			created_at    TEXT NOT NULL,
			state_gz      BLOB NOT NULL,
			byte_size     INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			PRIMARY KEY (thread_id, version)
		);

		CREATE INDEX IF NOT EXISTS idx_conversation_states_created
			ON conversation_states(created_at DESC);
	`)
	return err
}

// Load returns the newest saved state for threadID, or a fresh one.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*ConversationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT state_gz FROM conversation_states
		WHERE thread_id = ?
		ORDER BY version DESC
		LIMIT 1
	`, threadID)

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return New(threadID), nil
		}
		return nil, unavailable("load "+threadID, err)
	}

	st, err := decodeState(blob)
	if err != nil {
		return nil, unavailable("load "+threadID, err)
	}
	return st, nil
}

// LoadVersion returns a specific saved version.
func (s *SQLiteStore) LoadVersion(ctx context.Context, threadID string, version int) (*ConversationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT state_gz FROM conversation_states
		WHERE thread_id = ? AND version = ?
	`, threadID, version)

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("thread %s has no version %d", threadID, version)
		}
		return nil, unavailable("load version", err)
	}

	st, err := decodeState(blob)
	if err != nil {
		return nil, unavailable("load version", err)
	}
	return st, nil
}

// Save persists the content-only projection of st as the next version.
func (s *SQLiteStore) Save(ctx context.Context, st *ConversationState) (*ConversationState, error) {
	if st.ThreadID == "" {
		return nil, unavailable("save", errors.New("thread id is empty"))
	}

	saved := st.Project()
	saved.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM conversation_states WHERE thread_id = ?`,
		saved.ThreadID,
	).Scan(&current); err != nil {
		return nil, unavailable("read version", err)
	}
	saved.Version = current + 1

	blob, err := encodeState(saved)
	if err != nil {
		return nil, unavailable("encode", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_states (thread_id, version, created_at, state_gz, byte_size, message_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, saved.ThreadID, saved.Version, saved.UpdatedAt.Format(time.RFC3339Nano), blob, len(blob), len(saved.Messages)); err != nil {
		return nil, unavailable("insert", err)
	}

	if s.keep > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversation_states WHERE thread_id = ? AND version <= ?`,
			saved.ThreadID, saved.Version-s.keep,
		); err != nil {
			return nil, unavailable("prune", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit", err)
	}
	return saved, nil
}

// Versions lists saved versions for threadID, newest first.
func (s *SQLiteStore) Versions(ctx context.Context, threadID string, limit int) ([]VersionInfo, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, created_at, byte_size, message_count
		FROM conversation_states
		WHERE thread_id = ?
		ORDER BY version DESC
		LIMIT ?
	`, threadID, limit)
	if err != nil {
		return nil, unavailable("list versions", err)
	}
	defer rows.Close()

	var out []VersionInfo
	for rows.Next() {
		v := VersionInfo{ThreadID: threadID}
		var created string
		if err := rows.Scan(&v.Version, &created, &v.ByteSize, &v.MessageCount); err != nil {
			return nil, unavailable("scan version", err)
		}
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list versions", err)
	}
	return out, nil
}

// Threads returns every thread id with at least one saved version.
func (s *SQLiteStore) Threads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT thread_id FROM conversation_states ORDER BY thread_id`)
	if err != nil {
		return nil, unavailable("list threads", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan thread", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func encodeState(st *ConversationState) ([]byte, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeState(blob []byte) (*ConversationState, error) {
	gr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var st ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if st.Messages == nil {
		st.Messages = []llm.Message{}
	}
	if st.Expenses == nil {
		st.Expenses = []tools.Expense{}
	}
	return &st, nil
}
