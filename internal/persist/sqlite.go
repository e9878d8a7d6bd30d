package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ChamsBouzaiene/askme/internal/chat"
)

// SQLiteAdapter stores sessions and messages in two tables.
type SQLiteAdapter struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteAdapter opens (creating if needed) the database at dbPath.
func NewSQLiteAdapter(ctx context.Context, dbPath string, logger *zap.Logger) (*SQLiteAdapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; saves are serialized by the caller anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	a := &SQLiteAdapter{db: db, logger: logger.Named("persist.sqlite")}
	if err := a.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

func (a *SQLiteAdapter) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id       TEXT PRIMARY KEY,
		title    TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_position ON sessions(position);
	`
	_, err := a.db.ExecContext(ctx, schema)
	return err
}

// Load reads every session in stored order.
func (a *SQLiteAdapter) Load(ctx context.Context) (chat.Collection, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id, title FROM sessions ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	c := chat.Collection{}
	for rows.Next() {
		var s chat.Session
		if err := rows.Scan(&s.ID, &s.Title); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		c = append(c, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	rows.Close()

	msgRows, err := a.db.QueryContext(ctx, `SELECT session_id, role, content FROM messages ORDER BY session_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var sessionID, role, content string
		if err := msgRows.Scan(&sessionID, &role, &content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		r, err := chat.ParseRole(role)
		if err != nil {
			return nil, fmt.Errorf("%w: session %s: %v", ErrCorrupt, sessionID, err)
		}
		i := c.Index(sessionID)
		if i < 0 {
			continue
		}
		c[i].Messages = append(c[i].Messages, chat.Message{Role: r, Content: content})
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	a.logger.Debug("snapshot loaded", zap.Int("sessions", len(c)))
	return c, nil
}

// Save replaces all stored rows with c in a single transaction.
func (a *SQLiteAdapter) Save(ctx context.Context, c chat.Collection) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}

	sessStmt, err := tx.PrepareContext(ctx, `INSERT INTO sessions (id, title, position) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare session insert: %w", err)
	}
	defer sessStmt.Close()

	msgStmt, err := tx.PrepareContext(ctx, `INSERT INTO messages (session_id, seq, role, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer msgStmt.Close()

	messages := 0
	for pos, s := range c {
		if _, err := sessStmt.ExecContext(ctx, s.ID, s.Title, pos); err != nil {
			return fmt.Errorf("failed to insert session %s: %w", s.ID, err)
		}
		for seq, m := range s.Messages {
			if _, err := msgStmt.ExecContext(ctx, s.ID, seq, string(m.Role), m.Content); err != nil {
				return fmt.Errorf("failed to insert message %d of %s: %w", seq, s.ID, err)
			}
			messages++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	a.logger.Debug("snapshot saved", zap.Int("sessions", len(c)), zap.Int("messages", messages))
	return nil
}

// Close closes the database connection.
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}
