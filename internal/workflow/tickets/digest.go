package tickets

import (
	"context"
	"fmt"
	"strings"

	"github.com/h1v3-io/lcst/internal/ticket"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

// digestLimit caps the tickets listed in one digest.
const digestLimit = 25

// PostDigest posts the open tickets to the archive channel. Nothing is
// posted when no ticket is open. It returns the number of open tickets.
func (m *Manager) PostDigest(ctx context.Context) (int, error) {
	open := protocol.TicketOpen
	filter := ticket.Filter{Status: &open}

	total, err := m.deps.Store.Count(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("tickets: digest: %w", err)
	}
	if total == 0 {
		m.logger.Debug("digest skipped, no open tickets")
		return 0, nil
	}

	filter.Limit = digestLimit
	list, err := m.deps.Store.List(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("tickets: digest: %w", err)
	}

	lines := make([]string, 0, len(list)+1)
	for _, t := range list {
		lines = append(lines, fmt.Sprintf("%s · %s · %s",
			protocol.MentionChannel(t.ChannelID), protocol.MentionUser(t.OwnerID), protocol.FormatTime(t.CreatedAt)))
	}
	if total > len(list) {
		lines = append(lines, fmt.Sprintf("… e mais %d.", total-len(list)))
	}

	_, err = m.deps.Channels.SendMessage(ctx, m.cfg.ArchiveChannelID, protocol.OutboundMessage{
		Embeds: []protocol.Embed{{
			Title:       fmt.Sprintf("Tickets em aberto: %d", total),
			Description: strings.Join(lines, "\n"),
			Color:       protocol.ColorDefault,
		}},
	})
	if err != nil {
		return total, fmt.Errorf("tickets: digest: post: %w", err)
	}
	m.logger.Info("digest posted", "open", total)
	return total, nil
}
