package workflow

import (
	"errors"
	"fmt"

	"github.com/h1v3-io/lcst/internal/policy"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

var (
	// ErrCollectionAborted means the actor dismissed a prompt or let it
	// expire. The transition ends silently.
	ErrCollectionAborted = errors.New("workflow: input collection aborted")
	// ErrDirectMessage means a gated action was used outside a guild.
	ErrDirectMessage = errors.New("workflow: action used in a direct message")
	// ErrChannelNotFound is returned by Channels for unknown channels.
	ErrChannelNotFound = errors.New("workflow: channel not found")
	// ErrIdentityNotFound is returned by IdentityResolver.
	ErrIdentityNotFound = errors.New("workflow: identity not found")
)

// UserMessager is implemented by errors that carry text for the actor.
type UserMessager interface {
	UserMessage() string
}

// UnauthorizedError means the actor lacks the category an action needs.
type UnauthorizedError struct {
	Key     policy.Key
	ActorID string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("workflow: %s not authorized for %s", e.ActorID, e.Key)
}

func (e *UnauthorizedError) UserMessage() string {
	return "Você não tem permissão para realizar esta ação."
}

// NotFoundError reports a missing entity. Code, when set, is an
// operator-facing diagnostic shown alongside the message.
type NotFoundError struct {
	Code    string
	Message string
	Err     error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("workflow: not found: %s: %v", e.Message, e.Err)
	}
	return "workflow: not found: " + e.Message
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) UserMessage() string { return withCode(e.Code, e.Message) }

// ChannelKindError means a channel exists but cannot carry messages.
type ChannelKindError struct {
	ChannelID string
	Kind      protocol.ChannelKind
	Message   string
}

// CodeChannelKind identifies ChannelKindError in user replies.
const CodeChannelKind = "TK216"

func (e *ChannelKindError) Error() string {
	return fmt.Sprintf("workflow: channel %s is %s, not text", e.ChannelID, e.Kind)
}

func (e *ChannelKindError) UserMessage() string { return withCode(CodeChannelKind, e.Message) }

// ExternalServiceError wraps a failure of the chat platform, the store or
// another collaborator.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("workflow: %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) UserMessage() string { return "Falha temporária, tente novamente." }

// External wraps err as an ExternalServiceError unless it is nil or
// already carries a user message.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	var um UserMessager
	if errors.As(err, &um) {
		return err
	}
	return &ExternalServiceError{Op: op, Err: err}
}

func withCode(code, msg string) string {
	if code == "" {
		return msg
	}
	return "`" + code + "` " + msg
}
