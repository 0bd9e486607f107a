package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrLinkNotFound is returned when no link matches.
var ErrLinkNotFound = errors.New("identity: link not found")

// Link ties a chat member to their external directory profile.
type Link struct {
	ChatID       string    `json:"chat_id"`
	ExternalID   string    `json:"external_id"`
	ExternalName string    `json:"external_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// Dialect selects the bind marker style of a database driver.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// LinkStore persists links in the "profiles" table. It shares the ticket
// store's connection.
type LinkStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewLinkStore runs migrations on db and returns a store.
func NewLinkStore(ctx context.Context, db *sql.DB, dialect Dialect) (*LinkStore, error) {
	s := &LinkStore{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LinkStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			chat_id       TEXT PRIMARY KEY,
			external_id   TEXT NOT NULL UNIQUE,
			external_name TEXT NOT NULL,
			created_at    TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("identity: migrate: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_profiles_name ON profiles(LOWER(external_name))`)
	if err != nil {
		return fmt.Errorf("identity: migrate: %w", err)
	}
	return nil
}

// Put creates or replaces the link of l.ChatID.
func (s *LinkStore) Put(ctx context.Context, l Link) error {
	if l.ChatID == "" || l.ExternalID == "" {
		return errors.New("identity: link needs chat and external ids")
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now().UTC()
	}
	p := s.dialect.placeholder
	query := fmt.Sprintf(`
		INSERT INTO profiles (chat_id, external_id, external_name, created_at)
		VALUES (%s, %s, %s, %s)
		ON CONFLICT(chat_id) DO UPDATE SET
			external_id=excluded.external_id, external_name=excluded.external_name`,
		p(1), p(2), p(3), p(4))
	_, err := s.db.ExecContext(ctx, query, l.ChatID, l.ExternalID, l.ExternalName, l.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("identity: put link: %w", err)
	}
	return nil
}

func (s *LinkStore) ByChatID(ctx context.Context, chatID string) (*Link, error) {
	return s.one(ctx, "chat_id = "+s.dialect.placeholder(1), chatID)
}

func (s *LinkStore) ByExternalID(ctx context.Context, externalID string) (*Link, error) {
	return s.one(ctx, "external_id = "+s.dialect.placeholder(1), externalID)
}

// ByExternalName matches the external name case-insensitively.
func (s *LinkStore) ByExternalName(ctx context.Context, name string) (*Link, error) {
	return s.one(ctx, "LOWER(external_name) = LOWER("+s.dialect.placeholder(1)+")", name)
}

func (s *LinkStore) one(ctx context.Context, where string, arg any) (*Link, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT chat_id, external_id, external_name, created_at FROM profiles WHERE "+where, arg)
	var l Link
	var created string
	if err := row.Scan(&l.ChatID, &l.ExternalID, &l.ExternalName, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("identity: get link: %w", err)
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &l, nil
}
