package slackconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/lcst/internal/workflow"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

// historyPageSize is the conversations.history page size.
const historyPageSize = 200

// Message subtypes that are channel bookkeeping rather than conversation.
var skippedSubtypes = map[string]bool{
	"channel_join":    true,
	"channel_leave":   true,
	"channel_topic":   true,
	"channel_purpose": true,
	"channel_name":    true,
	"group_join":      true,
	"group_leave":     true,
}

func slackErrorIs(err error, codes ...string) bool {
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		return slices.Contains(codes, se.Err)
	}
	return err != nil && slices.Contains(codes, err.Error())
}

// FetchChannel resolves channels and, for team ids, workspaces. A
// workspace is the closest Slack has to a channel category: ticket
// channels are created in it.
func (c *Connector) FetchChannel(ctx context.Context, id string) (*protocol.Channel, error) {
	if strings.HasPrefix(id, "T") {
		team, err := c.api.GetOtherTeamInfoContext(ctx, id)
		if slackErrorIs(err, "team_not_found") {
			return nil, fmt.Errorf("slack: team %s: %w", id, workflow.ErrChannelNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("slack: fetch team: %w", err)
		}
		return &protocol.Channel{ID: team.ID, Name: team.Name, Kind: protocol.ChannelCategory}, nil
	}

	ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: id})
	if slackErrorIs(err, "channel_not_found") {
		return nil, fmt.Errorf("slack: channel %s: %w", id, workflow.ErrChannelNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("slack: fetch channel: %w", err)
	}
	kind := protocol.ChannelText
	if ch.IsArchived || ch.IsIM || ch.IsMpIM {
		kind = protocol.ChannelOther
	}
	return &protocol.Channel{ID: ch.ID, Name: ch.Name, Kind: kind}, nil
}

// CreateChannel creates a private channel and invites every member or
// user group granted view access. spec.ParentID, when set, is the team
// the channel is created in (Enterprise Grid); deny overrides need no
// call since private channels already hide from everyone not invited.
func (c *Connector) CreateChannel(ctx context.Context, spec workflow.ChannelSpec) (*protocol.Channel, error) {
	ch, err := c.api.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: spec.Name,
		IsPrivate:   true,
		TeamID:      spec.ParentID,
	})
	if err != nil {
		return nil, fmt.Errorf("slack: create channel %q: %w", spec.Name, err)
	}

	invite, err := c.invitees(ctx, spec.Overrides)
	if err != nil {
		return nil, err
	}
	if len(invite) > 0 {
		if _, err := c.api.InviteUsersToConversationContext(ctx, ch.ID, invite...); err != nil {
			return nil, fmt.Errorf("slack: invite to %s: %w", ch.ID, err)
		}
	}
	c.logger.Debug("channel created", "channel", ch.ID, "name", ch.Name, "invited", len(invite))
	return &protocol.Channel{ID: ch.ID, Name: ch.Name, Kind: protocol.ChannelText}, nil
}

// invitees expands view-granting overrides to user ids, without the bot.
func (c *Connector) invitees(ctx context.Context, overrides []workflow.PermissionOverride) ([]string, error) {
	seen := map[string]bool{c.botID: true}
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, o := range overrides {
		if !slices.Contains(o.Allow, workflow.PermView) {
			continue
		}
		switch o.Kind {
		case workflow.PrincipalMember:
			add(o.ID)
		case workflow.PrincipalRole:
			members, err := c.api.GetUserGroupMembersContext(ctx, o.ID)
			if err != nil {
				return nil, fmt.Errorf("slack: members of %s: %w", o.ID, err)
			}
			for _, id := range members {
				add(id)
			}
		}
	}
	return out, nil
}

// SendMessage posts msg and uploads its attachments as files after it.
func (c *Connector) SendMessage(ctx context.Context, channelID string, msg protocol.OutboundMessage) (*protocol.Message, error) {
	_, ts, err := c.api.PostMessageContext(ctx, channelID, messageOptions(msg)...)
	if err != nil {
		return nil, fmt.Errorf("slack: post message: %w", err)
	}
	for _, att := range msg.Attachments {
		if len(att.Data) == 0 {
			c.logger.Debug("skipping empty attachment", "channel", channelID, "name", att.Name)
			continue
		}
		_, err := c.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:  channelID,
			Filename: att.Name,
			Title:    att.Name,
			FileSize: len(att.Data),
			Reader:   bytes.NewReader(att.Data),
		})
		if err != nil {
			return nil, fmt.Errorf("slack: upload %s: %w", att.Name, err)
		}
	}
	return &protocol.Message{
		ID:        ts,
		ChannelID: channelID,
		Author:    protocol.Actor{ID: c.botID, Tag: c.botName, Bot: true},
		Content:   msg.Content,
		Embeds:    msg.Embeds,
		Controls:  msg.Controls,
		Timestamp: parseTS(ts),
	}, nil
}

func (c *Connector) EditMessage(ctx context.Context, channelID, messageID string, msg protocol.OutboundMessage) error {
	if _, _, _, err := c.api.UpdateMessageContext(ctx, channelID, messageID, messageOptions(msg)...); err != nil {
		return fmt.Errorf("slack: update message: %w", err)
	}
	return nil
}

// FetchMessagesAfter pages through conversations.history, which returns
// newest first, and reverses the result.
func (c *Connector) FetchMessagesAfter(ctx context.Context, channelID, afterID string) ([]protocol.Message, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    afterID,
		Limit:     historyPageSize,
	}
	var raw []slack.Message
	for {
		resp, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("slack: history of %s: %w", channelID, err)
		}
		raw = append(raw, resp.Messages...)
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = resp.ResponseMetaData.NextCursor
	}

	out := make([]protocol.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		m := raw[i]
		if m.Timestamp == afterID || skippedSubtypes[m.SubType] {
			continue
		}
		out = append(out, fromSlackMessage(channelID, m, c.author(ctx, m)))
	}
	return out, nil
}

func (c *Connector) author(ctx context.Context, m slack.Message) protocol.Actor {
	if m.User == "" {
		return protocol.Actor{ID: m.BotID, Tag: m.Username, Bot: true}
	}
	a, err := c.FetchMember(ctx, "", m.User)
	if err != nil {
		c.logger.Debug("author lookup failed", "user", m.User, "error", err)
		return protocol.Actor{ID: m.User, Tag: m.User}
	}
	return *a
}

// Reply posts an ephemeral message only the actor sees. Replies are never
// read back, so Markdown in them is converted as well.
func (c *Connector) Reply(ctx context.Context, a *workflow.Activation, text string) error {
	_, err := c.api.PostEphemeralContext(ctx, a.ChannelID, a.Actor.ID, slack.MsgOptionText(MarkdownToMrkdwn(toMrkdwn(text)), false))
	if err != nil {
		return fmt.Errorf("slack: reply: %w", err)
	}
	return nil
}

// directory caches user groups and users for the configured TTL.
type directory struct {
	mu        sync.Mutex
	groups    map[string][]string // group id -> member ids
	groupsAt  time.Time
	users     map[string]protocol.Actor
	usersAt   time.Time
	userInfos map[string]cachedUser
}

type cachedUser struct {
	actor protocol.Actor
	at    time.Time
}

func newDirectory() *directory {
	return &directory{userInfos: make(map[string]cachedUser)}
}

// RoleSetOf returns the user groups actorID belongs to.
func (c *Connector) RoleSetOf(ctx context.Context, _ string, actorID string) ([]string, error) {
	d := c.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.groups == nil || c.now().Sub(d.groupsAt) > c.config.CacheTTL {
		groups, err := c.api.GetUserGroupsContext(ctx, slack.GetUserGroupsOptionIncludeUsers(true))
		if err != nil {
			return nil, fmt.Errorf("slack: user groups: %w", err)
		}
		d.groups = make(map[string][]string, len(groups))
		for _, g := range groups {
			d.groups[g.ID] = g.Users
		}
		d.groupsAt = c.now()
	}

	var out []string
	for id, members := range d.groups {
		if slices.Contains(members, actorID) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// FetchMember looks up one user. Deleted users count as missing.
func (c *Connector) FetchMember(ctx context.Context, _ string, id string) (*protocol.Actor, error) {
	d := c.dir
	d.mu.Lock()
	if cu, ok := d.userInfos[id]; ok && c.now().Sub(cu.at) <= c.config.CacheTTL {
		d.mu.Unlock()
		a := cu.actor
		return &a, nil
	}
	d.mu.Unlock()

	u, err := c.api.GetUserInfoContext(ctx, id)
	if slackErrorIs(err, "user_not_found", "users_not_found") {
		return nil, fmt.Errorf("slack: user %s: %w", id, workflow.ErrIdentityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("slack: user info: %w", err)
	}
	if u.Deleted {
		return nil, fmt.Errorf("slack: user %s deactivated: %w", id, workflow.ErrIdentityNotFound)
	}
	a := actorFromUser(u)

	d.mu.Lock()
	d.userInfos[id] = cachedUser{actor: a, at: c.now()}
	d.mu.Unlock()
	return &a, nil
}

// FindMember matches handle against usernames and display names,
// ignoring case.
func (c *Connector) FindMember(ctx context.Context, _ string, handle string) (*protocol.Actor, error) {
	d := c.dir
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.users == nil || c.now().Sub(d.usersAt) > c.config.CacheTTL {
		users, err := c.api.GetUsersContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("slack: list users: %w", err)
		}
		d.users = make(map[string]protocol.Actor, len(users))
		for i := range users {
			if users[i].Deleted {
				continue
			}
			a := actorFromUser(&users[i])
			d.users[strings.ToLower(a.Tag)] = a
			if a.DisplayName != "" {
				if _, taken := d.users[strings.ToLower(a.DisplayName)]; !taken {
					d.users[strings.ToLower(a.DisplayName)] = a
				}
			}
		}
		d.usersAt = c.now()
	}

	a, ok := d.users[strings.ToLower(handle)]
	if !ok {
		return nil, fmt.Errorf("slack: handle %q: %w", handle, workflow.ErrIdentityNotFound)
	}
	return &a, nil
}
