package ticket

import (
	"context"
	"errors"
	"fmt"

	"github.com/h1v3-io/lcst/pkg/protocol"
)

// ErrNotFound is returned when no ticket has the requested id.
var ErrNotFound = errors.New("ticket: not found")

// ErrReopen is returned when asked to move a closed ticket back to open.
var ErrReopen = errors.New("ticket: closed tickets cannot be reopened")

// Store is the persistence interface for tickets. Tickets are never
// deleted.
type Store interface {
	// Create inserts a new ticket. The id must be unused.
	Create(ctx context.Context, t *protocol.Ticket) error
	// Get retrieves a ticket by id.
	Get(ctx context.Context, id string) (*protocol.Ticket, error)
	// List returns tickets matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*protocol.Ticket, error)
	// Count returns the number of tickets matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)
	// UpdateStatus changes a ticket's status. Closing an already closed
	// ticket succeeds and keeps the first closed_at.
	UpdateStatus(ctx context.Context, id string, status protocol.TicketStatus) error
}

// Filter constrains ticket list queries.
type Filter struct {
	Status  *protocol.TicketStatus
	OwnerID string
	Limit   int // 0 = no limit
}

// where renders the filter as a WHERE clause. placeholder returns the
// driver's bind marker for the n-th argument (1-based).
func (f Filter) where(placeholder func(n int) string) (string, []any) {
	clause := " WHERE 1=1"
	var args []any
	if f.Status != nil {
		args = append(args, string(*f.Status))
		clause += " AND status = " + placeholder(len(args))
	}
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		clause += " AND owner_id = " + placeholder(len(args))
	}
	return clause, args
}

func (f Filter) limit() string {
	if f.Limit > 0 {
		return fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return ""
}

// transition checks a status change against the current ticket.
func transition(cur *protocol.Ticket, next protocol.TicketStatus) error {
	if !next.Valid() {
		return fmt.Errorf("ticket: invalid status %q", next)
	}
	if cur.Status == protocol.TicketClosed && next == protocol.TicketOpen {
		return ErrReopen
	}
	return nil
}
