package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/HenshawMike/fx-agent/internal/domain"
	"github.com/HenshawMike/fx-agent/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed transcript archive.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_key TEXT NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		agent_name TEXT,
		proposal_json TEXT,
		proposal_state TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveMessage appends one message to a session's transcript.
func (s *SQLiteStore) SaveMessage(ctx context.Context, sessionKey string, msg *domain.Message) error {
	var agentName interface{}
	if msg.AgentName != "" {
		agentName = msg.AgentName
	}

	var proposalJSON, proposalState interface{}
	if msg.Proposal != nil {
		raw, err := json.Marshal(msg.Proposal)
		if err != nil {
			return fmt.Errorf("marshal proposal: %w", err)
		}
		proposalJSON = string(raw)
		proposalState = string(msg.Proposal.State)
	}

	query := `
	INSERT INTO messages (id, session_key, sender, text, agent_name, proposal_json, proposal_state, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, sessionKey, string(msg.Sender), msg.Text,
		agentName, proposalJSON, proposalState,
		msg.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// UpdateProposalState records a proposal's terminal state. Retries with
// exponential backoff to handle SQLITE_BUSY while the recorder and sweeper
// write concurrently.
func (s *SQLiteStore) UpdateProposalState(ctx context.Context, messageID string, state domain.ProposalState) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.updateProposalStateOnce(ctx, messageID, state)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) {
			if i < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms, 200ms
				slog.Debug("UpdateProposalState hit SQLITE_BUSY, retrying",
					"message_id", messageID,
					"attempt", i+1,
					"delay", delay)
				time.Sleep(delay)
				continue
			}
		}

		return fmt.Errorf("update proposal state for %s after %d attempts: %w", messageID, i+1, err)
	}

	return nil
}

func (s *SQLiteStore) updateProposalStateOnce(ctx context.Context, messageID string, state domain.ProposalState) error {
	query := `
	UPDATE messages
	SET proposal_state = ?,
	    proposal_json = json_set(proposal_json, '$.state', ?)
	WHERE id = ? AND proposal_json IS NOT NULL`

	result, err := s.db.ExecContext(ctx, query, string(state), string(state), messageID)
	if err != nil {
		return fmt.Errorf("update proposal state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateProposalState affected 0 rows", "message_id", messageID)
	}
	return nil
}

// SessionTranscript returns archived messages for a session, oldest first.
func (s *SQLiteStore) SessionTranscript(ctx context.Context, sessionKey string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `
	SELECT id, sender, text, agent_name, proposal_json, created_at
	FROM messages WHERE session_key = ?
	ORDER BY created_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transcript rows", "error", closeErr)
		}
	}()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var sender string
		var agentName, proposalJSON sql.NullString
		var createdAt int64

		if err := rows.Scan(&msg.ID, &sender, &msg.Text, &agentName, &proposalJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}

		msg.Sender = domain.Sender(sender)
		msg.AgentName = agentName.String
		msg.Timestamp = time.Unix(0, createdAt)
		if proposalJSON.Valid {
			var proposal domain.Proposal
			if err := json.Unmarshal([]byte(proposalJSON.String), &proposal); err != nil {
				return nil, fmt.Errorf("unmarshal archived proposal: %w", err)
			}
			msg.Proposal = &proposal
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	return messages, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
