package slackconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/h1v3-io/lcst/internal/connector"
	"github.com/h1v3-io/lcst/internal/workflow"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

// Config holds Slack connector configuration.
type Config struct {
	BotToken      string        // xoxb-... Bot User OAuth Token
	AppToken      string        // xapp-... App-Level Token (for Socket Mode)
	APIURL        string        // optional Web API base URL override
	PromptTimeout time.Duration // how long a modal may stay open; 0 = 10m
	CacheTTL      time.Duration // user and user group cache lifetime; 0 = 1m
}

// Connector runs the workflows on Slack via Socket Mode. Buttons carry
// action tokens as their action ids, prompts are modals, embeds are
// message attachments and roles are user groups.
type Connector struct {
	api     *slack.Client
	socket  *socketmode.Client
	config  Config
	handler connector.ActivationHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	botID   string
	botName string
	prompts *prompts
	dir     *directory
	now     func() time.Time
}

var _ connector.Platform = (*Connector)(nil)

// New creates a new Slack connector.
func New(cfg Config, handler connector.ActivationHandler, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}
	if cfg.PromptTimeout <= 0 {
		cfg.PromptTimeout = 10 * time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "slack")

	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(cfg.APIURL, "/")+"/"))
	}
	api := slack.New(cfg.BotToken, opts...)

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Connector{
		api:     api,
		socket:  socketmode.New(api),
		config:  cfg,
		handler: handler,
		logger:  logger,
		botID:   authResp.UserID,
		botName: authResp.User,
		prompts: newPrompts(),
		dir:     newDirectory(),
		now:     time.Now,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// SetHandler replaces the activation handler. It must be called before Start.
func (c *Connector) SetHandler(h connector.ActivationHandler) { c.handler = h }

// Start begins listening for events via Socket Mode. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop cancels the event loop and waits for running activations.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			switch event.Type {
			case socketmode.EventTypeInteractive:
				cb, ok := event.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				if event.Request != nil {
					c.socket.Ack(*event.Request)
				}
				c.handleInteraction(ctx, cb)
			case socketmode.EventTypeConnectionError:
				c.logger.Warn("slack connection error", "error", event.Data)
			case socketmode.EventTypeConnected:
				c.logger.Debug("slack connected")
			}
		}
	}
}

// handleInteraction never blocks: button presses run in their own
// goroutine so the loop stays free to deliver the modal submissions a
// running activation may be waiting for.
func (c *Connector) handleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	switch cb.Type {
	case slack.InteractionTypeBlockActions:
		if len(cb.ActionCallback.BlockActions) == 0 {
			return
		}
		a := c.activation(cb, cb.ActionCallback.BlockActions[0])
		if c.handler == nil {
			c.logger.Warn("activation dropped, no handler", "event", a.ID)
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if !c.handler(ctx, a) {
				c.logger.Debug("unclaimed activation", "event", a.ID, "action", a.Token)
			}
		}()
	case slack.InteractionTypeViewSubmission:
		if cb.View.CallbackID != promptCallbackID {
			return
		}
		if !c.prompts.resolve(cb.View.ExternalID, promptResult{values: viewValues(cb.View)}) {
			c.logger.Info("late prompt submission", "view", cb.View.ExternalID, "user", cb.User.ID)
		}
	case slack.InteractionTypeViewClosed:
		if cb.View.CallbackID == promptCallbackID {
			c.prompts.resolve(cb.View.ExternalID, promptResult{closed: true})
		}
	}
}

func (c *Connector) activation(cb slack.InteractionCallback, action *slack.BlockAction) *workflow.Activation {
	channelID := cb.Channel.ID
	if channelID == "" {
		channelID = cb.Container.ChannelID
	}
	guildID := cb.Team.ID
	if isDirect(channelID, cb.Channel.Name) {
		guildID = ""
	}

	a := &workflow.Activation{
		ID:    uuid.NewString(),
		Token: action.ActionID,
		Actor: protocol.Actor{
			ID:  cb.User.ID,
			Tag: cb.User.Name,
		},
		GuildID:   guildID,
		ChannelID: channelID,
		TriggerID: cb.TriggerID,
	}
	if cb.Message.Timestamp != "" {
		author := protocol.Actor{ID: cb.Message.User, Tag: cb.Message.Username}
		if cb.Message.BotID != "" {
			author.Bot = true
		}
		m := fromSlackMessage(channelID, cb.Message, author)
		a.Message = &m
	}
	return a
}

// isDirect reports whether a channel is a direct or group direct message.
func isDirect(channelID, name string) bool {
	return strings.HasPrefix(channelID, "D") || name == "directmessage" || strings.HasPrefix(name, "mpdm-")
}

// MarkdownToMrkdwn converts standard Markdown to Slack's mrkdwn format.
func MarkdownToMrkdwn(md string) string {
	result := md

	// Convert emphasis markers in a single pass
	result = convertEmphasis(result)
	// Convert strikethrough: ~~text~~ → ~text~
	result = strings.ReplaceAll(result, "~~", "~")
	// Convert links: [text](url) → <url|text>
	result = convertLinks(result)

	return result
}

// convertEmphasis handles both bold (**text** → *text*) and italic (*text* → _text_)
// in a single pass, correctly distinguishing between the two.
func convertEmphasis(s string) string {
	var b strings.Builder
	inCode := false
	i := 0
	for i < len(s) {
		ch := s[i]
		if ch == '`' {
			inCode = !inCode
			b.WriteByte(ch)
			i++
		} else if ch == '*' && !inCode {
			if i+1 < len(s) && s[i+1] == '*' {
				b.WriteByte('*')
				i += 2
			} else {
				b.WriteByte('_')
				i++
			}
		} else {
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}

// convertLinks converts [text](url) to <url|text>.
func convertLinks(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '[' {
			closeB := strings.Index(s[i:], "](")
			if closeB == -1 {
				b.WriteByte(s[i])
				i++
				continue
			}
			closeB += i
			closeP := strings.Index(s[closeB:], ")")
			if closeP == -1 {
				b.WriteByte(s[i])
				i++
				continue
			}
			closeP += closeB

			text := s[i+1 : closeB]
			url := s[closeB+2 : closeP]
			fmt.Fprintf(&b, "<%s|%s>", url, text)
			i = closeP + 1
		} else {
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}
