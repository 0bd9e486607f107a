package ticket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/h1v3-io/lcst/pkg/protocol"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore wraps an open connection. Call Migrate before first use
// on a fresh database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// OpenPostgres connects to dsn and runs migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: ping: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id                TEXT PRIMARY KEY,
			reason            TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'open',
			owner_id          TEXT NOT NULL,
			channel_id        TEXT NOT NULL,
			anchor_message_id TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL,
			closed_at         TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_tickets_owner ON tickets(owner_id);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, t *protocol.Ticket) error {
	if t.Status == "" {
		t.Status = protocol.TicketOpen
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, reason, status, owner_id, channel_id, anchor_message_id, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.Reason, string(t.Status), t.OwnerID, t.ChannelID, t.AnchorMessageID, t.CreatedAt, t.ClosedAt)
	if err != nil {
		return fmt.Errorf("ticket store: create: %w", err)
	}
	return nil
}

const postgresColumns = "id, reason, status, owner_id, channel_id, anchor_message_id, created_at, closed_at"

func (s *PostgresStore) Get(ctx context.Context, id string) (*protocol.Ticket, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+postgresColumns+" FROM tickets WHERE id = $1", id)
	t, err := scanPostgres(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ticket %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*protocol.Ticket, error) {
	where, args := filter.where(postgresPlaceholder)
	query := "SELECT " + postgresColumns + " FROM tickets" + where + " ORDER BY created_at DESC" + filter.limit()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filter.where(postgresPlaceholder)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tickets"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ticket store: count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status protocol.TicketStatus) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := transition(cur, status); err != nil {
		return err
	}
	var closedAt *time.Time
	if status == protocol.TicketClosed {
		now := s.now().UTC()
		closedAt = &now
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE tickets SET status = $1, closed_at = COALESCE(closed_at, $2) WHERE id = $3",
		string(status), closedAt, id)
	if err != nil {
		return fmt.Errorf("ticket store: update status: %w", err)
	}
	return nil
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func scanPostgres(s scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var status string
	var closedAt sql.NullTime

	err := s.Scan(&t.ID, &t.Reason, &status, &t.OwnerID, &t.ChannelID, &t.AnchorMessageID, &t.CreatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	t.Status = protocol.TicketStatus(status)
	if closedAt.Valid {
		ct := closedAt.Time
		t.ClosedAt = &ct
	}
	return &t, nil
}
