// Package capture persists snapshots of browsed queues to a local SQLite
// database so messages can be inspected after they have moved on.
package capture

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/epalmerini/keyhole/internal/xdg"
)

//go:embed schema.sql
var schemaSQL string

// Store defines the interface for browse persistence
type Store interface {
	CreateBrowse(ctx context.Context, queue, routingType, broker string, messageCount int) (int64, error)
	ListRecentBrowses(ctx context.Context, limit int64) ([]Browse, error)
	InsertMessage(ctx context.Context, msg *MessageRecord) (int64, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessagesByBrowse(ctx context.Context, browseID, limit, offset int64) ([]Message, error)
	SearchMessages(ctx context.Context, query string, limit, offset int64) ([]Message, error)
	Close() error
}

// Browse is one recorded browse_queue snapshot.
type Browse struct {
	ID           int64
	Queue        string
	RoutingType  string
	MessageCount int64
	Broker       sql.NullString
	BrowsedAt    time.Time
}

// MessageRecord represents a browsed message to be inserted
type MessageRecord struct {
	BrowseID       int64
	MessageID      string
	Body           string
	DecodedBody    string
	Priority       int64
	TimestampMS    int64
	Redelivered    bool
	Durable        bool
	Protocol       string
	PersistentSize int64
}

// Message is a stored row.
type Message struct {
	ID             int64
	BrowseID       int64
	MessageID      sql.NullString
	Body           sql.NullString
	DecodedBody    sql.NullString
	Priority       int64
	TimestampMS    int64
	Redelivered    bool
	Durable        bool
	Protocol       sql.NullString
	PersistentSize int64
	CapturedAt     time.Time
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite store at the default or custom path
func NewStore(customPath string) (*SQLiteStore, error) {
	dbPath := customPath
	if dbPath == "" {
		dataDir, err := xdg.Dir("XDG_DATA_HOME", ".local/share")
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dbPath = filepath.Join(dataDir, "keyhole.db")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better performance
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to set pragmas: %w", err), db.Close())
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize schema: %w", err), db.Close())
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateBrowse(ctx context.Context, queue, routingType, broker string, messageCount int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO browses (queue, routing_type, broker, message_count) VALUES (?, ?, ?, ?)`,
		queue, routingType, toNullString(broker), messageCount,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListRecentBrowses(ctx context.Context, limit int64) (_ []Browse, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, queue, routing_type, message_count, broker, browsed_at
		 FROM browses ORDER BY browsed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, rows.Close()) }()

	var browses []Browse
	for rows.Next() {
		var b Browse
		if err := rows.Scan(&b.ID, &b.Queue, &b.RoutingType, &b.MessageCount, &b.Broker, &b.BrowsedAt); err != nil {
			return nil, err
		}
		browses = append(browses, b)
	}
	return browses, rows.Err()
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *MessageRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (browse_id, message_id, body, decoded_body, priority,
		                       timestamp_ms, redelivered, durable, protocol, persistent_size)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.BrowseID, toNullString(msg.MessageID), toNullString(msg.Body),
		toNullString(msg.DecodedBody), msg.Priority, msg.TimestampMS,
		msg.Redelivered, msg.Durable, toNullString(msg.Protocol), msg.PersistentSize,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const messageColumns = `m.id, m.browse_id, m.message_id, m.body, m.decoded_body, m.priority,
       m.timestamp_ms, m.redelivered, m.durable, m.protocol, m.persistent_size, m.captured_at`

func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages m WHERE m.id = ?`, id)
	var m Message
	if err := scanMessage(row, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) ListMessagesByBrowse(ctx context.Context, browseID, limit, offset int64) ([]Message, error) {
	const q = `SELECT ` + messageColumns + `
FROM messages m
WHERE m.browse_id = ?
ORDER BY m.id ASC
LIMIT ? OFFSET ?`
	return s.scanMessages(ctx, q, browseID, limit, offset)
}

func (s *SQLiteStore) SearchMessages(ctx context.Context, query string, limit, offset int64) ([]Message, error) {
	const q = `SELECT ` + messageColumns + `
FROM messages m
JOIN messages_fts fts ON m.id = fts.rowid
WHERE messages_fts MATCH ?
ORDER BY m.captured_at DESC
LIMIT ? OFFSET ?`
	return s.scanMessages(ctx, q, query, limit, offset)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, m *Message) error {
	return row.Scan(
		&m.ID, &m.BrowseID, &m.MessageID, &m.Body, &m.DecodedBody, &m.Priority,
		&m.TimestampMS, &m.Redelivered, &m.Durable, &m.Protocol, &m.PersistentSize,
		&m.CapturedAt,
	)
}

func (s *SQLiteStore) scanMessages(ctx context.Context, query string, args ...any) (_ []Message, err error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, rows.Close()) }()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
