package ticket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/h1v3-io/lcst/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			id                TEXT PRIMARY KEY,
			reason            TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'open',
			owner_id          TEXT NOT NULL,
			channel_id        TEXT NOT NULL,
			anchor_message_id TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			closed_at         TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_tickets_owner ON tickets(owner_id);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, t *protocol.Ticket) error {
	if t.Status == "" {
		t.Status = protocol.TicketOpen
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, reason, status, owner_id, channel_id, anchor_message_id, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Reason, string(t.Status), t.OwnerID, t.ChannelID, t.AnchorMessageID,
		t.CreatedAt.UTC().Format(timeLayout), formatTimePtr(t.ClosedAt))
	if err != nil {
		return fmt.Errorf("ticket store: create: %w", err)
	}
	return nil
}

// timeLayout is fixed width so text order matches time order. Rows written
// with RFC3339Nano still parse.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteColumns = "id, reason, status, owner_id, channel_id, anchor_message_id, created_at, closed_at"

func (s *SQLiteStore) Get(ctx context.Context, id string) (*protocol.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ticket %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*protocol.Ticket, error) {
	where, args := filter.where(sqlitePlaceholder)
	query := "SELECT " + sqliteColumns + " FROM tickets" + where + " ORDER BY created_at DESC" + filter.limit()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filter.where(sqlitePlaceholder)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tickets"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ticket store: count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status protocol.TicketStatus) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := transition(cur, status); err != nil {
		return err
	}
	var closedAt *string
	if status == protocol.TicketClosed {
		v := s.now().UTC().Format(timeLayout)
		closedAt = &v
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE tickets SET status = ?, closed_at = COALESCE(closed_at, ?) WHERE id = ?`,
		string(status), closedAt, id)
	if err != nil {
		return fmt.Errorf("ticket store: update status: %w", err)
	}
	return nil
}

// DB returns the underlying database connection. The identity link store
// shares it.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

func sqlitePlaceholder(int) string { return "?" }

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLite(s scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var status, createdAt string
	var closedAt *string

	err := s.Scan(&t.ID, &t.Reason, &status, &t.OwnerID, &t.ChannelID, &t.AnchorMessageID, &createdAt, &closedAt)
	if err != nil {
		return nil, err
	}
	t.Status = protocol.TicketStatus(status)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if closedAt != nil {
		ct, _ := time.Parse(time.RFC3339Nano, *closedAt)
		t.ClosedAt = &ct
	}
	return &t, nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(timeLayout)
	return &v
}
