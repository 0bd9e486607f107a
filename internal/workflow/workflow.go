// Package workflow holds the pieces shared by every interactive workflow:
// the activation a control press produces, the collaborator contracts the
// workflows drive, the authorization gate, and the dispatcher that routes
// activations to the workflow owning their token namespace.
package workflow

import (
	"context"

	"github.com/h1v3-io/lcst/internal/action"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

// Activation is one press of a control.
type Activation struct {
	ID        string // correlation id, logged as "event"
	Token     string // raw action token carried by the control
	Actor     protocol.Actor
	GuildID   string // workspace the press happened in; "" for direct messages
	ChannelID string
	Message   *protocol.Message // message carrying the control, when known
	TriggerID string            // short-lived handle for opening a prompt
}

// Direct reports whether the activation came from a direct message.
func (a *Activation) Direct() bool { return a.GuildID == "" }

// Handler is a workflow reachable through the dispatcher.
type Handler interface {
	Namespace() action.Namespace
	// Handle decodes a.Token and runs the transition it names.
	Handle(ctx context.Context, a *Activation) error
}

// Permission is a channel capability granted or denied by an override.
type Permission string

const (
	PermView        Permission = "view"
	PermSend        Permission = "send"
	PermReadHistory Permission = "read_history"
)

// ReadPermissions lets a principal see and take part in a channel.
var ReadPermissions = []Permission{PermView, PermSend, PermReadHistory}

// PrincipalKind says what a PermissionOverride targets.
type PrincipalKind string

const (
	PrincipalMember   PrincipalKind = "member"
	PrincipalRole     PrincipalKind = "role"
	PrincipalEveryone PrincipalKind = "everyone"
)

// PermissionOverride adjusts what one principal may do in a channel.
type PermissionOverride struct {
	Kind  PrincipalKind
	ID    string // member or role id; empty for everyone
	Allow []Permission
	Deny  []Permission
}

// ChannelSpec describes a channel to create.
type ChannelSpec struct {
	GuildID   string
	Name      string
	ParentID  string // category the channel is created under
	Overrides []PermissionOverride
}

// Channels is the chat gateway as seen by the workflows.
type Channels interface {
	// FetchChannel returns ErrChannelNotFound when the channel is gone.
	FetchChannel(ctx context.Context, id string) (*protocol.Channel, error)
	CreateChannel(ctx context.Context, spec ChannelSpec) (*protocol.Channel, error)
	SendMessage(ctx context.Context, channelID string, msg protocol.OutboundMessage) (*protocol.Message, error)
	// EditMessage replaces the content, embeds and controls of a message.
	EditMessage(ctx context.Context, channelID, messageID string, msg protocol.OutboundMessage) error
	// FetchMessagesAfter returns every message posted after afterID,
	// oldest first.
	FetchMessagesAfter(ctx context.Context, channelID, afterID string) ([]protocol.Message, error)
}

// PromptField is one text input of a prompt.
type PromptField struct {
	ID          string
	Label       string
	Placeholder string
	Multiline   bool
	Optional    bool
}

// Prompt asks the actor for structured input.
type Prompt struct {
	Title  string
	Fields []PromptField
}

// Values holds collected input keyed by PromptField.ID.
type Values map[string]string

// Collector suspends until the actor submits or dismisses a prompt.
type Collector interface {
	// Collect returns ErrCollectionAborted when the prompt is dismissed
	// or times out.
	Collect(ctx context.Context, a *Activation, p Prompt) (Values, error)
}

// Profile is a member's record in the external community directory.
type Profile struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	Motto      string `json:"motto,omitempty"`
}

// Identity is a resolved member, with the linked external profile when
// one is known.
type Identity struct {
	Actor   protocol.Actor
	Profile *Profile
}

// IdentityResolver turns free-form user input into a guild member.
type IdentityResolver interface {
	// ResolveActor returns ErrIdentityNotFound when raw names nobody.
	ResolveActor(ctx context.Context, guildID, raw string) (*Identity, error)
}

// Replier answers the actor privately.
type Replier interface {
	Reply(ctx context.Context, a *Activation, text string) error
}

// RoleSource reports the role ids a member holds.
type RoleSource interface {
	RoleSetOf(ctx context.Context, guildID, actorID string) ([]string, error)
}
