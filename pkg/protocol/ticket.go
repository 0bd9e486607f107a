package protocol

import "time"

// TicketStatus represents the lifecycle state of a ticket.
// The only transition is open -> closed.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	return s == TicketOpen || s == TicketClosed
}

// Ticket reasons persisted by the two open variants.
const (
	ReasonDefault = "AUTO"
	ReasonPraise  = "PRAISE"
)

// Ticket is a private support conversation backed by a dedicated channel.
// ChannelID is immutable once set; tickets are never deleted.
type Ticket struct {
	ID              string       `json:"id"`
	Reason          string       `json:"reason"`
	Status          TicketStatus `json:"status"`
	OwnerID         string       `json:"owner_id"`
	ChannelID       string       `json:"channel_id"`
	AnchorMessageID string       `json:"anchor_message_id"`
	CreatedAt       time.Time    `json:"created_at"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
}
