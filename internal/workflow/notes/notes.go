// Package notes implements the note request workflow: a member asks for a
// note to be recorded about a colleague, and leadership approves or
// rejects it.
//
// A pending request has no durable backing store. The approval message
// posted to the review channel (its embed and its two controls) is the
// request; approving or rejecting reads the embed back from the message
// that carried the pressed control and strips the controls. Concurrent
// decisions on the same message are not serialized: the last edit wins.
package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/h1v3-io/lcst/internal/action"
	"github.com/h1v3-io/lcst/internal/policy"
	"github.com/h1v3-io/lcst/internal/workflow"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

// Workflow is the policy table name of this workflow.
const Workflow = "notes"

// Action is a note workflow transition.
type Action string

const (
	Request Action = "Request"
	Approve Action = "Approve"
	Reject  Action = "Reject"
)

// Namespace owns every note control.
var Namespace = action.NewNamespace("LCST", "NotesInteractionHandler")

// Prompt field ids.
const (
	FieldTarget  = "Target"
	FieldContent = "Content"
)

// Embed field names.
const (
	fieldName       = "Nome do Colaborador"
	fieldRank       = "Cargo do Colaborador"
	fieldNote       = "Anotação"
	fieldAuthorized = "Autorizado Por"
	rankUnknown     = "N/A"
)

const targetNotFound = "Não foi possível encontrar o usuário informado."

// Rules returns the default policy rows for this workflow.
func Rules() []policy.Rule {
	return []policy.Rule{
		{Workflow: Workflow, Action: string(Request), Category: policy.Initiate},
		{Workflow: Workflow, Action: string(Approve), Category: policy.Leadership},
		{Workflow: Workflow, Action: string(Reject), Category: policy.Leadership},
	}
}

// Config holds the channels and roles the workflow posts to.
type Config struct {
	ReviewChannelID string // approval requests
	RecordChannelID string // approved notes
	ReviewRoleID    string // mentioned on new requests
	Sectors         policy.Hierarchy
}

// Deps are the collaborators the machine drives.
type Deps struct {
	Gate       *workflow.Gate
	Collector  workflow.Collector
	Identities workflow.IdentityResolver
	Channels   workflow.Channels
	Replier    workflow.Replier
	Roles      workflow.RoleSource
}

// Machine runs note transitions. It implements workflow.Handler.
type Machine struct {
	codec  *action.EnumCodec[Action]
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		codec:  action.NewEnumCodec(Namespace, Request, Approve, Reject),
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "notes"),
	}
}

func (m *Machine) Namespace() action.Namespace { return Namespace }

// Panel is the entry message members use to start a request.
func (m *Machine) Panel() protocol.OutboundMessage {
	return protocol.OutboundMessage{
		Embeds: []protocol.Embed{{
			Title:       "Anotações",
			Description: "Solicite o registro de uma anotação para um colaborador. A solicitação será avaliada pela presidência.",
			Color:       protocol.ColorDefault,
		}},
		Controls: []protocol.Control{{
			Token: m.codec.MustEncode(Request),
			Label: "Solicitar Anotação",
			Style: protocol.StyleSuccess,
		}},
	}
}

func (m *Machine) Handle(ctx context.Context, a *workflow.Activation) error {
	act, err := m.codec.Decode(a.Token)
	if err != nil {
		return err
	}
	if err := m.deps.Gate.Authorize(ctx, a, policy.Key{Workflow: Workflow, Action: string(act)}); err != nil {
		return err
	}
	switch act {
	case Request:
		return m.request(ctx, a)
	case Approve:
		return m.approve(ctx, a)
	case Reject:
		return m.reject(ctx, a)
	}
	return fmt.Errorf("notes: unhandled action %q", act)
}

var requestPrompt = workflow.Prompt{
	Title: "Anotação",
	Fields: []workflow.PromptField{
		{
			ID:          FieldTarget,
			Label:       "Anotado (Discord ou Habbo)",
			Placeholder: "Informe ID do Discord (@Nick) ou do Habbo (Nick).",
		},
		{
			ID:          FieldContent,
			Label:       "Descrição da Anotação",
			Placeholder: "Ex.: Tarefa feita no dia 29/09/2022",
			Multiline:   true,
		},
	},
}

func (m *Machine) request(ctx context.Context, a *workflow.Activation) error {
	values, err := m.deps.Collector.Collect(ctx, a, requestPrompt)
	if err != nil {
		if errors.Is(err, workflow.ErrCollectionAborted) {
			return err
		}
		return workflow.External("collect note", err)
	}

	raw := strings.TrimSpace(values[FieldTarget])
	content := strings.TrimSpace(values[FieldContent])

	if raw == "" {
		return m.deps.Replier.Reply(ctx, a, targetNotFound)
	}
	target, err := m.deps.Identities.ResolveActor(ctx, a.GuildID, raw)
	switch {
	case errors.Is(err, workflow.ErrIdentityNotFound):
		m.logger.Info("note target not found", "event", a.ID, "input", raw)
		return m.deps.Replier.Reply(ctx, a, targetNotFound)
	case err != nil:
		return workflow.External("resolve target", err)
	}

	embed := protocol.Embed{
		Title: "Solicitação de Anotação para @" + target.Actor.Tag,
		Color: protocol.ColorDefault,
		Author: &protocol.EmbedAuthor{
			Name:    a.Actor.Tag,
			IconURL: a.Actor.AvatarURL,
		},
		Fields: []protocol.EmbedField{
			{Name: fieldName, Value: displayName(target.Actor)},
			{Name: fieldRank, Value: m.rankOf(ctx, a, target.Actor.ID)},
			{Name: fieldNote, Value: content},
		},
	}
	if target.Profile != nil {
		embed.ThumbnailURL = target.Profile.AvatarURL
	}

	_, err = m.deps.Channels.SendMessage(ctx, m.cfg.ReviewChannelID, protocol.OutboundMessage{
		Content: protocol.MentionRole(m.cfg.ReviewRoleID),
		Embeds:  []protocol.Embed{embed},
		Controls: []protocol.Control{
			{Token: m.codec.MustEncode(Approve), Label: "Aprovar", Style: protocol.StyleSuccess},
			{Token: m.codec.MustEncode(Reject), Label: "Reprovar", Style: protocol.StyleDanger},
		},
	})
	if err != nil {
		return workflow.External("post approval request", err)
	}

	m.logger.Info("note requested", "event", a.ID, "requester", a.Actor.ID, "target", target.Actor.ID)
	return m.deps.Replier.Reply(ctx, a, "Solicitação enviada.")
}

func (m *Machine) approve(ctx context.Context, a *workflow.Activation) error {
	req, err := requestEmbed(a)
	if err != nil {
		return err
	}

	record := req.Clone()
	record.Title = "Anotação de " + a.Actor.Tag
	record.Color = protocol.ColorDefault
	record.Fields = append(record.Fields, protocol.EmbedField{Name: fieldAuthorized, Value: a.Actor.Tag})

	if _, err := m.deps.Channels.SendMessage(ctx, m.cfg.RecordChannelID, protocol.OutboundMessage{
		Embeds: []protocol.Embed{record},
	}); err != nil {
		return workflow.External("post note record", err)
	}

	if err := m.decide(ctx, a, req, "Solicitação Aprovada", protocol.ColorSuccess); err != nil {
		return err
	}

	m.logger.Info("note approved", "event", a.ID, "approver", a.Actor.ID, "message", a.Message.ID)
	return m.deps.Replier.Reply(ctx, a, "Operação concluída.")
}

func (m *Machine) reject(ctx context.Context, a *workflow.Activation) error {
	req, err := requestEmbed(a)
	if err != nil {
		return err
	}
	if err := m.decide(ctx, a, req, "Solicitação Rejeitada", protocol.ColorError); err != nil {
		return err
	}

	m.logger.Info("note rejected", "event", a.ID, "reviewer", a.Actor.ID, "message", a.Message.ID)
	return m.deps.Replier.Reply(ctx, a, "Rejeitada.")
}

// decide rewrites the approval message with its final title and color and
// without controls, so it cannot be decided again.
func (m *Machine) decide(ctx context.Context, a *workflow.Activation, req protocol.Embed, title string, color protocol.Color) error {
	final := req.Clone()
	final.Title = title
	final.Color = color

	err := m.deps.Channels.EditMessage(ctx, a.Message.ChannelID, a.Message.ID, protocol.OutboundMessage{
		Content: a.Message.Content,
		Embeds:  []protocol.Embed{final},
	})
	return workflow.External("edit approval request", err)
}

// rankOf names the highest sector role the member holds.
func (m *Machine) rankOf(ctx context.Context, a *workflow.Activation, memberID string) string {
	roles, err := m.deps.Roles.RoleSetOf(ctx, a.GuildID, memberID)
	if err != nil {
		m.logger.Warn("target roles unavailable", "event", a.ID, "target", memberID, "error", err)
		return rankUnknown
	}
	if r, ok := m.cfg.Sectors.Highest(roles); ok && r.Name != "" {
		return r.Name
	}
	return rankUnknown
}

func requestEmbed(a *workflow.Activation) (protocol.Embed, error) {
	if a.Message == nil || len(a.Message.Embeds) == 0 {
		return protocol.Embed{}, &workflow.NotFoundError{Message: "Solicitação não encontrada."}
	}
	return a.Message.Embeds[0], nil
}

func displayName(actor protocol.Actor) string {
	if actor.DisplayName != "" {
		return actor.DisplayName
	}
	return actor.Tag
}
