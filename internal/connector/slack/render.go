package slackconn

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/lcst/pkg/protocol"
)

// controlsBlockID names the actions block that carries a message's controls.
const controlsBlockID = "lcst_controls"

var (
	markupRe      = regexp.MustCompile(`<(?:@&?[A-Za-z0-9]+|#[A-Za-z0-9]+|t:\d+:[A-Za-z])>`)
	slackMarkupRe = regexp.MustCompile(`<[^<>]*>`)
	roleMentionRe = regexp.MustCompile(`^<@&([A-Za-z0-9]+)>$`)
	timestampRe   = regexp.MustCompile(`^<t:(\d+):[A-Za-z]>$`)
	subteamRe     = regexp.MustCompile(`^<!subteam\^([A-Za-z0-9]+)(?:\|[^>]*)?>$`)
	dateRe        = regexp.MustCompile(`^<!date\^(\d+)\^[^|>]*(?:\|[^>]*)?>$`)

	escaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	unescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")
)

// toMrkdwn converts workflow text to Slack mrkdwn. Only mentions and
// timestamps are markup: user and channel mentions already share Slack's
// syntax, role mentions become user group mentions and timestamps become
// localized dates. Everything else is escaped so it renders, and reads
// back, verbatim.
func toMrkdwn(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range markupRe.FindAllStringIndex(s, -1) {
		b.WriteString(escaper.Replace(s[last:loc[0]]))
		b.WriteString(slackMarkup(s[loc[0]:loc[1]]))
		last = loc[1]
	}
	b.WriteString(escaper.Replace(s[last:]))
	return b.String()
}

func slackMarkup(m string) string {
	if sub := roleMentionRe.FindStringSubmatch(m); sub != nil {
		return "<!subteam^" + sub[1] + ">"
	}
	if sub := timestampRe.FindStringSubmatch(m); sub != nil {
		sec, err := strconv.ParseInt(sub[1], 10, 64)
		if err != nil {
			return m
		}
		fallback := time.Unix(sec, 0).UTC().Format("2006-01-02 15:04 UTC")
		return fmt.Sprintf("<!date^%d^{date_long_pretty} {time}|%s>", sec, fallback)
	}
	return m
}

// fromMrkdwn reverses toMrkdwn. Raw angle brackets in Slack text are
// always markup, so whatever lies between them is unescaped.
func fromMrkdwn(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range slackMarkupRe.FindAllStringIndex(s, -1) {
		b.WriteString(unescaper.Replace(s[last:loc[0]]))
		m := s[loc[0]:loc[1]]
		if sub := subteamRe.FindStringSubmatch(m); sub != nil {
			m = "<@&" + sub[1] + ">"
		} else if sub := dateRe.FindStringSubmatch(m); sub != nil {
			m = "<t:" + sub[1] + ":F>"
		}
		b.WriteString(m)
		last = loc[1]
	}
	b.WriteString(unescaper.Replace(s[last:]))
	return b.String()
}

func embedToAttachment(e protocol.Embed) slack.Attachment {
	att := slack.Attachment{
		Color:      e.Color.Hex(),
		Fallback:   e.Title,
		Title:      e.Title,
		Text:       toMrkdwn(e.Description),
		ThumbURL:   e.ThumbnailURL,
		Footer:     e.Footer,
		MarkdownIn: []string{"text", "fields"},
	}
	if e.Author != nil {
		att.AuthorName = e.Author.Name
		att.AuthorIcon = e.Author.IconURL
	}
	for _, f := range e.Fields {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: f.Name, Value: toMrkdwn(f.Value)})
	}
	return att
}

func attachmentToEmbed(att slack.Attachment) protocol.Embed {
	e := protocol.Embed{
		Title:        att.Title,
		Description:  fromMrkdwn(att.Text),
		ThumbnailURL: att.ThumbURL,
		Footer:       att.Footer,
	}
	if c, err := strconv.ParseInt(strings.TrimPrefix(att.Color, "#"), 16, 32); err == nil {
		e.Color = protocol.Color(c)
	}
	if att.AuthorName != "" || att.AuthorIcon != "" {
		e.Author = &protocol.EmbedAuthor{Name: att.AuthorName, IconURL: att.AuthorIcon}
	}
	for _, f := range att.Fields {
		e.Fields = append(e.Fields, protocol.EmbedField{Name: f.Title, Value: fromMrkdwn(f.Value)})
	}
	return e
}

func controlsBlock(controls []protocol.Control) *slack.ActionBlock {
	elements := make([]slack.BlockElement, 0, len(controls))
	for _, c := range controls {
		btn := slack.NewButtonBlockElement(c.Token, c.Token,
			slack.NewTextBlockObject(slack.PlainTextType, c.Label, true, false))
		switch c.Style {
		case protocol.StyleSuccess:
			btn = btn.WithStyle(slack.StylePrimary)
		case protocol.StyleDanger:
			btn = btn.WithStyle(slack.StyleDanger)
		}
		elements = append(elements, btn)
	}
	return slack.NewActionBlock(controlsBlockID, elements...)
}

func blocksToControls(blocks slack.Blocks) []protocol.Control {
	var out []protocol.Control
	for _, b := range blocks.BlockSet {
		ab, ok := b.(*slack.ActionBlock)
		if !ok || ab.Elements == nil {
			continue
		}
		for _, el := range ab.Elements.ElementSet {
			btn, ok := el.(*slack.ButtonBlockElement)
			if !ok {
				continue
			}
			c := protocol.Control{Token: btn.ActionID}
			if btn.Text != nil {
				c.Label = btn.Text.Text
			}
			switch btn.Style {
			case slack.StylePrimary:
				c.Style = protocol.StyleSuccess
			case slack.StyleDanger:
				c.Style = protocol.StyleDanger
			}
			out = append(out, c)
		}
	}
	return out
}

// messageOptions renders msg as chat.postMessage / chat.update options.
// Blocks are always sent so an edit without controls clears them. When
// blocks are present Slack shows them instead of the top-level text, so the
// content is repeated in a section block.
func messageOptions(msg protocol.OutboundMessage) []slack.MsgOption {
	text := toMrkdwn(msg.Content)
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}

	atts := make([]slack.Attachment, 0, len(msg.Embeds))
	for _, e := range msg.Embeds {
		atts = append(atts, embedToAttachment(e))
	}
	opts = append(opts, slack.MsgOptionAttachments(atts...))

	blocks := []slack.Block{}
	if len(msg.Controls) > 0 {
		if text != "" {
			blocks = append(blocks, slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
		}
		blocks = append(blocks, controlsBlock(msg.Controls))
	}
	return append(opts, slack.MsgOptionBlocks(blocks...))
}

func fromSlackMessage(channelID string, m slack.Message, author protocol.Actor) protocol.Message {
	out := protocol.Message{
		ID:        m.Timestamp,
		ChannelID: channelID,
		Author:    author,
		Content:   fromMrkdwn(m.Text),
		Controls:  blocksToControls(m.Blocks),
		Timestamp: parseTS(m.Timestamp),
	}
	for _, att := range m.Attachments {
		out.Embeds = append(out.Embeds, attachmentToEmbed(att))
	}
	return out
}

func actorFromUser(u *slack.User) protocol.Actor {
	name := u.Profile.DisplayName
	if name == "" {
		name = u.RealName
	}
	return protocol.Actor{
		ID:          u.ID,
		Tag:         u.Name,
		DisplayName: name,
		AvatarURL:   u.Profile.Image192,
		Bot:         u.IsBot,
	}
}

// parseTS converts a Slack message timestamp ("1709294400.000100").
func parseTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	us, _ := strconv.ParseInt(frac, 10, 64)
	return time.Unix(s, us*1000).UTC()
}
