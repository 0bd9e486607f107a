package slackconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"

	"github.com/h1v3-io/lcst/internal/workflow"
)

const promptCallbackID = "lcst_prompt"

// promptResult is what a modal interaction delivers to a waiting Collect.
type promptResult struct {
	values workflow.Values
	closed bool
}

// prompts tracks open modals by their external id until the user submits
// or dismisses them.
type prompts struct {
	mu      sync.Mutex
	pending map[string]chan promptResult
}

func newPrompts() *prompts {
	return &prompts{pending: make(map[string]chan promptResult)}
}

func (p *prompts) add(id string) chan promptResult {
	ch := make(chan promptResult, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *prompts) remove(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// resolve delivers r to the Collect waiting on id. It reports false when
// nobody is waiting, e.g. after a timeout.
func (p *prompts) resolve(id string, r promptResult) bool {
	p.mu.Lock()
	ch, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

// Collect opens a modal for p and waits for the actor to submit it.
// Dismissal, timeout and cancellation all return ErrCollectionAborted.
func (c *Connector) Collect(ctx context.Context, a *workflow.Activation, p workflow.Prompt) (workflow.Values, error) {
	if a.TriggerID == "" {
		return nil, fmt.Errorf("slack: collect: activation has no trigger id")
	}
	id := uuid.NewString()
	ch := c.prompts.add(id)
	defer c.prompts.remove(id)

	if _, err := c.api.OpenViewContext(ctx, a.TriggerID, modalView(id, p)); err != nil {
		return nil, fmt.Errorf("slack: open prompt: %w", err)
	}

	timer := time.NewTimer(c.config.PromptTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.closed {
			return nil, workflow.ErrCollectionAborted
		}
		return r.values, nil
	case <-timer.C:
		c.logger.Debug("prompt timed out", "event", a.ID, "prompt", p.Title)
		return nil, workflow.ErrCollectionAborted
	case <-ctx.Done():
		return nil, workflow.ErrCollectionAborted
	}
}

func modalView(externalID string, p workflow.Prompt) slack.ModalViewRequest {
	blocks := make([]slack.Block, 0, len(p.Fields))
	for _, f := range p.Fields {
		var placeholder *slack.TextBlockObject
		if f.Placeholder != "" {
			placeholder = slack.NewTextBlockObject(slack.PlainTextType, f.Placeholder, false, false)
		}
		input := slack.NewPlainTextInputBlockElement(placeholder, f.ID).WithMultiline(f.Multiline)
		label := slack.NewTextBlockObject(slack.PlainTextType, f.Label, false, false)
		blocks = append(blocks, slack.NewInputBlock(f.ID, label, nil, input).WithOptional(f.Optional))
	}
	return slack.ModalViewRequest{
		Type:          slack.VTModal,
		Title:         slack.NewTextBlockObject(slack.PlainTextType, truncate(p.Title, 24), false, false),
		Submit:        slack.NewTextBlockObject(slack.PlainTextType, "Enviar", false, false),
		Close:         slack.NewTextBlockObject(slack.PlainTextType, "Cancelar", false, false),
		Blocks:        slack.Blocks{BlockSet: blocks},
		CallbackID:    promptCallbackID,
		ExternalID:    externalID,
		NotifyOnClose: true,
	}
}

// viewValues reads the submitted text inputs keyed by field id.
func viewValues(v slack.View) workflow.Values {
	out := make(workflow.Values)
	if v.State == nil {
		return out
	}
	for blockID, actions := range v.State.Values {
		if a, ok := actions[blockID]; ok {
			out[blockID] = a.Value
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
