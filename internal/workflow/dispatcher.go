package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/h1v3-io/lcst/internal/action"
)

// genericFailure is replied for errors that carry no user message.
const genericFailure = "Ocorreu um erro inesperado."

// Dispatcher routes activations to the handler owning their namespace.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[action.Namespace]Handler
	replier  Replier
	logger   *slog.Logger
}

func NewDispatcher(replier Replier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[action.Namespace]Handler),
		replier:  replier,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Register adds h. Two handlers may not share a namespace.
func (d *Dispatcher) Register(h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns := h.Namespace()
	if _, exists := d.handlers[ns]; exists {
		return fmt.Errorf("dispatcher: namespace %q already registered", ns)
	}
	d.handlers[ns] = h
	return nil
}

// Namespaces lists registered namespaces in sorted order.
func (d *Dispatcher) Namespaces() []action.Namespace {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]action.Namespace, 0, len(d.handlers))
	for ns := range d.handlers {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch runs the activation to completion on the calling goroutine and
// reports whether a registered handler claimed it. Unclaimed activations
// touch no collaborator. Handler errors are logged and answered here.
func (d *Dispatcher) Dispatch(ctx context.Context, a *Activation) bool {
	tok, ok := action.Parse(a.Token)
	if !ok {
		return false
	}
	d.mu.RLock()
	h, ok := d.handlers[tok.Namespace]
	d.mu.RUnlock()
	if !ok {
		d.logger.Debug("ignoring foreign action", "event", a.ID, "namespace", tok.Namespace)
		return false
	}

	log := d.logger.With("event", a.ID, "namespace", tok.Namespace, "actor", a.Actor.ID, "channel", a.ChannelID)
	log.Debug("dispatching action", "token", a.Token)

	err := h.Handle(ctx, a)
	d.report(ctx, log, a, err)
	return true
}

func (d *Dispatcher) report(ctx context.Context, log *slog.Logger, a *Activation, err error) {
	var (
		malformed    *action.MalformedTokenError
		unauthorized *UnauthorizedError
		notFound     *NotFoundError
		kind         *ChannelKindError
		external     *ExternalServiceError
	)
	switch {
	case err == nil:
		log.Info("action handled", "token", a.Token)
		return
	case errors.Is(err, ErrCollectionAborted):
		log.Debug("input collection aborted")
		return
	case errors.Is(err, ErrDirectMessage):
		log.Warn("gated action used in a direct message", "token", a.Token)
		return
	case errors.As(err, &malformed):
		log.Warn("malformed action token", "token", a.Token, "error", err)
	case errors.As(err, &unauthorized):
		log.Info("action denied", "action", unauthorized.Key.String())
	case errors.As(err, &notFound), errors.As(err, &kind):
		log.Warn("action target unavailable", "error", err)
	case errors.As(err, &external):
		log.Error("collaborator failure", "op", external.Op, "error", err)
	default:
		log.Error("action failed", "error", err)
	}
	d.reply(ctx, log, a, userMessage(err))
}

func (d *Dispatcher) reply(ctx context.Context, log *slog.Logger, a *Activation, text string) {
	if d.replier == nil {
		return
	}
	if err := d.replier.Reply(ctx, a, text); err != nil {
		log.Error("reply failed", "error", err)
	}
}

func userMessage(err error) string {
	var um UserMessager
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return genericFailure
}
