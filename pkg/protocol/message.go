package protocol

import (
	"fmt"
	"time"
)

// Actor is a chat user as seen by the workflows.
type Actor struct {
	ID          string `json:"id"`
	Tag         string `json:"tag"` // handle, e.g. "jdoe"
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bot         bool   `json:"bot,omitempty"`
}

// Color is a 0xRRGGBB embed accent color.
type Color int

const (
	ColorDefault Color = 0x5865f2
	ColorSuccess Color = 0x57f287
	ColorError   Color = 0xed4245
)

// Hex returns the color as "#rrggbb".
func (c Color) Hex() string {
	return fmt.Sprintf("#%06x", int(c)&0xffffff)
}

// EmbedField is a titled value inside an embed.
type EmbedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EmbedAuthor is the small header line of an embed.
type EmbedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

// Embed is a rich card attached to a message.
type Embed struct {
	Title        string       `json:"title,omitempty"`
	Description  string       `json:"description,omitempty"`
	Color        Color        `json:"color,omitempty"`
	Author       *EmbedAuthor `json:"author,omitempty"`
	Fields       []EmbedField `json:"fields,omitempty"`
	ThumbnailURL string       `json:"thumbnail_url,omitempty"`
	Footer       string       `json:"footer,omitempty"`
}

// Clone returns a deep copy of e.
func (e Embed) Clone() Embed {
	out := e
	if e.Author != nil {
		a := *e.Author
		out.Author = &a
	}
	out.Fields = append([]EmbedField(nil), e.Fields...)
	return out
}

// Field returns the value of the first field with the given name.
func (e Embed) Field(name string) (string, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// ControlStyle is the visual style of a button.
type ControlStyle string

const (
	StyleDefault ControlStyle = ""
	StyleSuccess ControlStyle = "success"
	StyleDanger  ControlStyle = "danger"
)

// Control is a button. Token is the opaque action token it carries.
type Control struct {
	Token string       `json:"token"`
	Label string       `json:"label"`
	Style ControlStyle `json:"style,omitempty"`
}

// Attachment is a file sent along with a message.
type Attachment struct {
	Name string `json:"name"`
	Data []byte `json:"-"`
}

// OutboundMessage is a message to send or the full replacement for an edit.
// An edit with no Controls removes any existing controls.
type OutboundMessage struct {
	Content     string       `json:"content,omitempty"`
	Embeds      []Embed      `json:"embeds,omitempty"`
	Controls    []Control    `json:"controls,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Message is a message read back from the platform.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Author    Actor     `json:"author"`
	Content   string    `json:"content"`
	Embeds    []Embed   `json:"embeds,omitempty"`
	Controls  []Control `json:"controls,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelKind distinguishes channels that can carry text messages.
type ChannelKind string

const (
	ChannelText     ChannelKind = "text"
	ChannelCategory ChannelKind = "category"
	ChannelOther    ChannelKind = "other"
)

// Channel is a chat channel.
type Channel struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Kind ChannelKind `json:"kind"`
}

// TextCapable reports whether messages can be posted to the channel.
func (c *Channel) TextCapable() bool {
	return c != nil && c.Kind == ChannelText
}

// Mention helpers produce platform-neutral markup that connectors translate.

// MentionUser returns "<@id>".
func MentionUser(id string) string { return "<@" + id + ">" }

// MentionRole returns "<@&id>".
func MentionRole(id string) string { return "<@&" + id + ">" }

// MentionChannel returns "<#id>".
func MentionChannel(id string) string { return "<#" + id + ">" }

// FormatTime returns "<t:unix:F>", a full date-time rendered in the
// reader's locale.
func FormatTime(t time.Time) string {
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}
