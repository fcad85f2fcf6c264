package memory

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scottdavis/mathagent/pkg/errors"
)

// sqliteTimeFormat is fixed width so stored timestamps compare as strings.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteTurnStore implements TurnStore using SQLite as the backend.
type SQLiteTurnStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	initialized sync.Once
	initErr     error
}

var _ TurnStore = (*SQLiteTurnStore)(nil)

// NewSQLiteTurnStore creates a new SQLite-backed turn store.
// The path parameter specifies the database file location.
// If path is ":memory:", the database will be created in-memory.
func NewSQLiteTurnStore(path string) (*SQLiteTurnStore, error) {
	connStr := path + "?_busy_timeout=5000"
	if path == ":memory:" {
		connStr = path
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to open SQLite database"),
			errors.Fields{"path": path},
		)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteTurnStore{
		db:   db,
		path: path,
	}
	if err := store.ensureInitialized(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteTurnStore) ensureInitialized() error {
	s.initialized.Do(func() {
		if s.path != ":memory:" {
			if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
				s.initErr = errors.Wrap(err, errors.Unknown, "failed to enable WAL mode")
				return
			}
		}

		query := `
        CREATE TABLE IF NOT EXISTS conversation_turns (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            session_id TEXT NOT NULL,
            input TEXT NOT NULL,
            output TEXT NOT NULL,
            created_at TEXT NOT NULL,
            expires_at TEXT
        );

        CREATE INDEX IF NOT EXISTS idx_conversation_turns_session
        ON conversation_turns(session_id, id);
        `

		if _, err := s.db.Exec(query); err != nil {
			s.initErr = errors.WithFields(
				errors.Wrap(err, errors.Unknown, "failed to initialize database"),
				errors.Fields{"query": query},
			)
		}
	})
	return s.initErr
}

// Append implements TurnStore.
func (s *SQLiteTurnStore) Append(ctx context.Context, sessionID string, turn Turn, window int, opts ...StoreOption) (err error) {
	if err := s.ensureInitialized(); err != nil {
		return err
	}

	options := &StoreOptions{}
	for _, opt := range opts {
		opt(options)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	created := turn.Time
	if created.IsZero() {
		created = time.Now()
	}
	var expires any
	if options.TTL > 0 {
		expires = time.Now().Add(options.TTL).UTC().Format(sqliteTimeFormat)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO conversation_turns (session_id, input, output, created_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, turn.Input, turn.Output, created.UTC().Format(sqliteTimeFormat), expires)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to store turn in SQLite"),
			errors.Fields{"session_id": sessionID},
		)
	}

	// Expiry applies to the whole session; an Append without a TTL makes it
	// persistent again.
	if _, err = tx.ExecContext(ctx,
		"UPDATE conversation_turns SET expires_at = ? WHERE session_id = ?", expires, sessionID); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to refresh session expiry"),
			errors.Fields{"session_id": sessionID},
		)
	}

	if window > 0 {
		_, err = tx.ExecContext(ctx, `
            DELETE FROM conversation_turns
            WHERE session_id = ? AND id NOT IN (
                SELECT id FROM conversation_turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
            )`, sessionID, sessionID, window)
		if err != nil {
			return errors.WithFields(
				errors.Wrap(err, errors.Unknown, "failed to trim session window"),
				errors.Fields{"session_id": sessionID, "window": window},
			)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to commit transaction")
	}
	return nil
}

// Load implements TurnStore.
func (s *SQLiteTurnStore) Load(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT input, output, created_at FROM conversation_turns
        WHERE session_id = ? AND (expires_at IS NULL OR expires_at > ?)
        ORDER BY id DESC LIMIT ?`,
		sessionID, time.Now().UTC().Format(sqliteTimeFormat), limit)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to load turns"),
			errors.Fields{"session_id": sessionID},
		)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var created string
		if err := rows.Scan(&turn.Input, &turn.Output, &created); err != nil {
			return nil, errors.Wrap(err, errors.Unknown, "failed to scan turn")
		}
		turn.Time, _ = time.Parse(sqliteTimeFormat, created)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "error iterating rows")
	}

	// Rows come newest first.
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[len(turns)-1-i] = t
	}
	return out, nil
}

// Clear implements TurnStore.
func (s *SQLiteTurnStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversation_turns WHERE session_id = ?", sessionID); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to clear session"),
			errors.Fields{"session_id": sessionID},
		)
	}
	return nil
}

// CleanExpired removes all expired turns from the store.
func (s *SQLiteTurnStore) CleanExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM conversation_turns WHERE expires_at IS NOT NULL AND expires_at <= ?",
		time.Now().UTC().Format(sqliteTimeFormat))
	if err != nil {
		return 0, errors.Wrap(err, errors.Unknown, "failed to clean expired entries")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, errors.Unknown, "failed to get affected rows count")
	}
	return affected, nil
}

// Close closes the database connection.
func (s *SQLiteTurnStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to close database connection")
	}
	return nil
}
