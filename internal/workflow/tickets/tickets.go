// Package tickets implements the ombudsman ticket lifecycle: a member opens
// a private ticket channel, staff talk with them there, and leadership
// closes the ticket, which archives a transcript of the conversation.
package tickets

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/h1v3-io/lcst/internal/action"
	"github.com/h1v3-io/lcst/internal/policy"
	"github.com/h1v3-io/lcst/internal/ticket"
	"github.com/h1v3-io/lcst/internal/workflow"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

// Workflow is the policy table name of this workflow.
const Workflow = "tickets"

// Action is a ticket workflow transition.
type Action string

const (
	OpenDefault Action = "OpenDefault"
	OpenPraise  Action = "OpenPraise"
	End         Action = "End"
)

// Namespace owns every ticket control.
var Namespace = action.NewNamespace("LCST", "OmbudsmanInteractionHandler")

// Descriptor is the payload of a ticket control. ID names the ticket and
// is required for End.
type Descriptor struct {
	ID     string `json:"id,omitempty"`
	Action Action `json:"action"`
}

const descriptorSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"id": {"type": "string", "pattern": "^[a-f0-9]{24}$"},
		"action": {"enum": ["OpenDefault", "OpenPraise", "End"]}
	},
	"required": ["action"],
	"additionalProperties": false
}`

func validateDescriptor(d Descriptor) error {
	if d.Action == End && d.ID == "" {
		return errors.New("End requires a ticket id")
	}
	return nil
}

// Rules returns the default policy rows for this workflow.
func Rules() []policy.Rule {
	return []policy.Rule{
		{Workflow: Workflow, Action: string(OpenDefault), Category: policy.Initiate},
		{Workflow: Workflow, Action: string(OpenPraise), Category: policy.Initiate},
		{Workflow: Workflow, Action: string(End), Category: policy.Leadership},
	}
}

// Config holds the channels and roles the workflow uses.
type Config struct {
	Category         *protocol.Channel // parent of ticket channels, from ResolveCategory; optional
	ArchiveChannelID string // closed ticket transcripts and digests
	StaffRoleID      string // may read every ticket channel
}

// Deps are the collaborators the manager drives.
type Deps struct {
	Gate     *workflow.Gate
	Store    ticket.Store
	Channels workflow.Channels
	Replier  workflow.Replier
}

// Manager runs ticket transitions. It implements workflow.Handler.
type Manager struct {
	codec  *action.StructuredCodec[Descriptor]
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
	suffix func() string
}

func New(cfg Config, deps Deps, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Category != nil && cfg.Category.Kind != protocol.ChannelCategory {
		return nil, fmt.Errorf("tickets: channel %s is %s, not a category", cfg.Category.ID, cfg.Category.Kind)
	}
	codec, err := action.NewStructuredCodec(Namespace, descriptorSchema, validateDescriptor)
	if err != nil {
		return nil, fmt.Errorf("tickets: %w", err)
	}
	return &Manager{
		codec:  codec,
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "tickets"),
		now:    time.Now,
		suffix: randomSuffix,
	}, nil
}

// ResolveCategory checks the configured parent category once at startup.
func ResolveCategory(ctx context.Context, channels workflow.Channels, id string) (*protocol.Channel, error) {
	if id == "" {
		return nil, nil
	}
	ch, err := channels.FetchChannel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("tickets: category %s: %w", id, err)
	}
	if ch.Kind != protocol.ChannelCategory {
		return nil, fmt.Errorf("tickets: channel %s is %s, not a category", id, ch.Kind)
	}
	return ch, nil
}

func (m *Manager) Namespace() action.Namespace { return Namespace }

// Panel is the entry message members use to open tickets.
func (m *Manager) Panel() (protocol.OutboundMessage, error) {
	open, err := m.codec.Encode(Descriptor{Action: OpenDefault})
	if err != nil {
		return protocol.OutboundMessage{}, err
	}
	praise, err := m.codec.Encode(Descriptor{Action: OpenPraise})
	if err != nil {
		return protocol.OutboundMessage{}, err
	}
	return protocol.OutboundMessage{
		Embeds: []protocol.Embed{{
			Title:       "Ouvidoria",
			Description: "Abra um ticket para falar com a diretoria em um canal privado, ou envie um elogio.",
			Color:       protocol.ColorDefault,
		}},
		Controls: []protocol.Control{
			{Token: open, Label: "Abrir Ticket", Style: protocol.StyleSuccess},
			{Token: praise, Label: "Enviar Elogio"},
		},
	}, nil
}

func (m *Manager) Handle(ctx context.Context, a *workflow.Activation) error {
	d, err := m.codec.Decode(a.Token)
	if err != nil {
		return err
	}
	if err := m.deps.Gate.Authorize(ctx, a, policy.Key{Workflow: Workflow, Action: string(d.Action)}); err != nil {
		return err
	}
	switch d.Action {
	case OpenDefault:
		return m.open(ctx, a, protocol.ReasonDefault)
	case OpenPraise:
		return m.open(ctx, a, protocol.ReasonPraise)
	case End:
		return m.end(ctx, a, d.ID)
	}
	return fmt.Errorf("tickets: unhandled action %q", d.Action)
}

// anchorPlaceholder is a zero-width space; the anchor is edited into the
// ticket header once the ticket id is known.
const anchorPlaceholder = "\u200B"

var titles = map[string]string{
	protocol.ReasonDefault: "Ouvidoria",
	protocol.ReasonPraise:  "Elogio",
}

func (m *Manager) categoryID() string {
	if m.cfg.Category == nil {
		return ""
	}
	return m.cfg.Category.ID
}

func (m *Manager) open(ctx context.Context, a *workflow.Activation, reason string) error {
	read := workflow.ReadPermissions
	ch, err := m.deps.Channels.CreateChannel(ctx, workflow.ChannelSpec{
		GuildID:  a.GuildID,
		Name:     m.channelName(a.Actor.Tag),
		ParentID: m.categoryID(),
		Overrides: []workflow.PermissionOverride{
			{Kind: workflow.PrincipalMember, ID: a.Actor.ID, Allow: read},
			{Kind: workflow.PrincipalEveryone, Deny: read},
			{Kind: workflow.PrincipalRole, ID: m.cfg.StaffRoleID, Allow: read},
		},
	})
	if err != nil {
		return workflow.External("create ticket channel", err)
	}

	anchor, err := m.deps.Channels.SendMessage(ctx, ch.ID, protocol.OutboundMessage{Content: anchorPlaceholder})
	if err != nil {
		return workflow.External("send ticket anchor", err)
	}

	now := m.now().UTC()
	t := &protocol.Ticket{
		ID:              ticket.NewID(now),
		Reason:          reason,
		Status:          protocol.TicketOpen,
		OwnerID:         a.Actor.ID,
		ChannelID:       ch.ID,
		AnchorMessageID: anchor.ID,
		CreatedAt:       now,
	}
	if err := m.deps.Store.Create(ctx, t); err != nil {
		return workflow.External("persist ticket", err)
	}

	closeToken, err := m.codec.Encode(Descriptor{ID: t.ID, Action: End})
	if err != nil {
		return err
	}
	err = m.deps.Channels.EditMessage(ctx, ch.ID, anchor.ID, protocol.OutboundMessage{
		Content: protocol.MentionRole(m.cfg.StaffRoleID) + " " + protocol.MentionUser(a.Actor.ID),
		Embeds: []protocol.Embed{{
			Title:  titles[reason],
			Color:  protocol.ColorDefault,
			Author: &protocol.EmbedAuthor{Name: a.Actor.Tag, IconURL: a.Actor.AvatarURL},
			Footer: t.ID,
		}},
		Controls: []protocol.Control{{Token: closeToken, Label: "Encerrar", Style: protocol.StyleDanger}},
	})
	if err != nil {
		return workflow.External("edit ticket anchor", err)
	}

	m.logger.Info("ticket opened", "event", a.ID, "ticket", t.ID, "reason", reason, "owner", a.Actor.ID, "channel", ch.ID)
	return m.deps.Replier.Reply(ctx, a, "Seu ticket foi criado com sucesso! Clique aqui: "+protocol.MentionChannel(ch.ID))
}

func (m *Manager) end(ctx context.Context, a *workflow.Activation, id string) error {
	t, err := m.deps.Store.Get(ctx, id)
	if errors.Is(err, ticket.ErrNotFound) {
		return &workflow.NotFoundError{Message: "Ticket não encontrado.", Err: err}
	}
	if err != nil {
		return workflow.External("load ticket", err)
	}

	// The status commits before anything is archived; a failed archive
	// post does not reopen the ticket.
	if err := m.deps.Store.UpdateStatus(ctx, id, protocol.TicketClosed); err != nil {
		return workflow.External("close ticket", err)
	}
	m.logger.Info("ticket closed", "event", a.ID, "ticket", id, "closer", a.Actor.ID)

	ch, err := m.deps.Channels.FetchChannel(ctx, t.ChannelID)
	if errors.Is(err, workflow.ErrChannelNotFound) {
		return &workflow.NotFoundError{Code: "TK207", Message: "Ticket não encontrado, contate o desenvolvedor.", Err: err}
	}
	if err != nil {
		return workflow.External("fetch ticket channel", err)
	}
	if !ch.TextCapable() {
		return &workflow.ChannelKindError{
			ChannelID: ch.ID,
			Kind:      ch.Kind,
			Message:   "Ticket não é um canal de texto, contate o desenvolvedor.",
		}
	}

	history, err := m.deps.Channels.FetchMessagesAfter(ctx, ch.ID, t.AnchorMessageID)
	if err != nil {
		return workflow.External("fetch ticket history", err)
	}

	_, err = m.deps.Channels.SendMessage(ctx, m.cfg.ArchiveChannelID, protocol.OutboundMessage{
		Embeds: []protocol.Embed{{
			Title:       "Ticket encerrado",
			Description: fmt.Sprintf("Ticket encerrado por %s, os registros das mensagens estão anexadas abaixo.", protocol.MentionUser(a.Actor.ID)),
			Color:       protocol.ColorDefault,
			Fields: []protocol.EmbedField{
				{Name: "Participantes", Value: participants(history)},
				{Name: "Criado Em", Value: protocol.FormatTime(t.CreatedAt)},
			},
			Footer: t.ID,
		}},
		Attachments: []protocol.Attachment{{Name: "history.txt", Data: []byte(Transcript(history))}},
	})
	if err != nil {
		return workflow.External("archive ticket", err)
	}

	m.logger.Info("ticket archived", "event", a.ID, "ticket", id, "messages", len(history))
	return m.deps.Replier.Reply(ctx, a, "Ticket encerrado.")
}

// Transcript renders messages one per line as "[authorId/@authorTag]: content".
func Transcript(history []protocol.Message) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, fmt.Sprintf("[%s/@%s]: %s", msg.Author.ID, msg.Author.Tag, msg.Content))
	}
	return strings.Join(lines, "\n")
}

// participants lists each distinct author once, in order of first message.
func participants(history []protocol.Message) string {
	seen := make(map[string]bool)
	var out []string
	for _, msg := range history {
		if seen[msg.Author.ID] {
			continue
		}
		seen[msg.Author.ID] = true
		out = append(out, protocol.MentionUser(msg.Author.ID))
	}
	if len(out) == 0 {
		return "Nenhum"
	}
	return strings.Join(out, "\n")
}

// channelName builds "<username>-<4 random base36>", keeping only
// characters every platform accepts in channel names. Accents are folded
// first so "João" becomes "joao".
func (m *Manager) channelName(username string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, username); err == nil {
		username = folded
	}
	var b strings.Builder
	for _, r := range strings.ToLower(username) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "ticket"
	}
	if len(name) > 70 {
		name = name[:70]
	}
	return name + "-" + m.suffix()
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomSuffix() string {
	b := make([]byte, 4)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base36))))
		if err != nil {
			b[i] = base36[time.Now().UnixNano()%int64(len(base36))]
			continue
		}
		b[i] = base36[n.Int64()]
	}
	return string(b)
}
