// Package workflowtest provides in-memory collaborators for workflow tests.
package workflowtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/h1v3-io/lcst/internal/workflow"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

// Sent is one message posted through Channels.
type Sent struct {
	ChannelID string
	Message   protocol.OutboundMessage
	ID        string
}

// Edit is one message edit made through Channels.
type Edit struct {
	ChannelID string
	MessageID string
	Message   protocol.OutboundMessage
}

// Channels is an in-memory chat gateway.
type Channels struct {
	mu       sync.Mutex
	seq      int
	Channels map[string]*protocol.Channel
	History  map[string][]protocol.Message // per channel, oldest first
	Sends    []Sent
	Edits    []Edit
	Created  []workflow.ChannelSpec

	SendErr   map[string]error // per channel
	EditErr   error
	CreateErr error
	FetchErr  error
}

func NewChannels() *Channels {
	return &Channels{
		Channels: make(map[string]*protocol.Channel),
		History:  make(map[string][]protocol.Message),
		SendErr:  make(map[string]error),
	}
}

// AddChannel registers a channel so FetchChannel finds it.
func (c *Channels) AddChannel(ch protocol.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Channels[ch.ID] = &ch
}

// Post appends a message to a channel's history as if a member wrote it.
func (c *Channels) Post(channelID string, author protocol.Actor, content string) protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := protocol.Message{
		ID:        c.nextID("m"),
		ChannelID: channelID,
		Author:    author,
		Content:   content,
		Timestamp: time.Unix(1700000000+int64(c.seq), 0).UTC(),
	}
	c.History[channelID] = append(c.History[channelID], m)
	return m
}

// Calls counts every collaborator call made.
func (c *Channels) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sends) + len(c.Edits) + len(c.Created)
}

func (c *Channels) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s%d", prefix, c.seq)
}

func (c *Channels) FetchChannel(_ context.Context, id string) (*protocol.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FetchErr != nil {
		return nil, c.FetchErr
	}
	ch, ok := c.Channels[id]
	if !ok {
		return nil, workflow.ErrChannelNotFound
	}
	cp := *ch
	return &cp, nil
}

func (c *Channels) CreateChannel(_ context.Context, spec workflow.ChannelSpec) (*protocol.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CreateErr != nil {
		return nil, c.CreateErr
	}
	c.Created = append(c.Created, spec)
	ch := &protocol.Channel{ID: c.nextID("C"), Name: spec.Name, Kind: protocol.ChannelText}
	c.Channels[ch.ID] = ch
	cp := *ch
	return &cp, nil
}

func (c *Channels) SendMessage(_ context.Context, channelID string, msg protocol.OutboundMessage) (*protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.SendErr[channelID]; err != nil {
		return nil, err
	}
	m := protocol.Message{
		ID:        c.nextID("m"),
		ChannelID: channelID,
		Author:    protocol.Actor{ID: "BOT", Tag: "lcst", Bot: true},
		Content:   msg.Content,
		Embeds:    msg.Embeds,
		Controls:  msg.Controls,
		Timestamp: time.Unix(1700000000+int64(c.seq), 0).UTC(),
	}
	c.Sends = append(c.Sends, Sent{ChannelID: channelID, Message: msg, ID: m.ID})
	c.History[channelID] = append(c.History[channelID], m)
	return &m, nil
}

func (c *Channels) EditMessage(_ context.Context, channelID, messageID string, msg protocol.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EditErr != nil {
		return c.EditErr
	}
	c.Edits = append(c.Edits, Edit{ChannelID: channelID, MessageID: messageID, Message: msg})
	for i, m := range c.History[channelID] {
		if m.ID == messageID {
			c.History[channelID][i].Content = msg.Content
			c.History[channelID][i].Embeds = msg.Embeds
			c.History[channelID][i].Controls = msg.Controls
		}
	}
	return nil
}

func (c *Channels) FetchMessagesAfter(_ context.Context, channelID, afterID string) ([]protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.Channels[channelID]; !ok {
		return nil, workflow.ErrChannelNotFound
	}
	hist := c.History[channelID]
	for i, m := range hist {
		if m.ID == afterID {
			return append([]protocol.Message(nil), hist[i+1:]...), nil
		}
	}
	return append([]protocol.Message(nil), hist...), nil
}

// Collector returns canned values.
type Collector struct {
	mu      sync.Mutex
	Values  workflow.Values
	Err     error
	Prompts []workflow.Prompt
}

func (c *Collector) Collect(_ context.Context, _ *workflow.Activation, p workflow.Prompt) (workflow.Values, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Prompts = append(c.Prompts, p)
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Values, nil
}

// Resolver resolves raw input from a fixed table.
type Resolver struct {
	Identities map[string]*workflow.Identity
	Err        error
}

func (r *Resolver) ResolveActor(_ context.Context, _ string, raw string) (*workflow.Identity, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	id, ok := r.Identities[raw]
	if !ok {
		return nil, workflow.ErrIdentityNotFound
	}
	return id, nil
}

// Replier records private replies.
type Replier struct {
	mu      sync.Mutex
	Replies []string
}

func (r *Replier) Reply(_ context.Context, _ *workflow.Activation, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Replies = append(r.Replies, text)
	return nil
}

// Last returns the latest reply, or "".
func (r *Replier) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Replies) == 0 {
		return ""
	}
	return r.Replies[len(r.Replies)-1]
}

// Roles maps actor ids to role sets.
type Roles struct {
	Sets  map[string][]string
	Err   error
	Calls int
}

func (r *Roles) RoleSetOf(_ context.Context, _ string, actorID string) ([]string, error) {
	r.Calls++
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Sets[actorID], nil
}
