package workflow

import (
	"context"
	"errors"

	"github.com/h1v3-io/lcst/internal/policy"
)

// Gate authorizes activations against the policy table.
type Gate struct {
	policy *policy.Evaluator
	roles  RoleSource
}

func NewGate(p *policy.Evaluator, roles RoleSource) *Gate {
	return &Gate{policy: p, roles: roles}
}

// Authorize returns nil when the actor may perform key. Direct messages
// yield ErrDirectMessage, denials *UnauthorizedError, and keys missing
// from the table *policy.UnknownActionError.
func (g *Gate) Authorize(ctx context.Context, a *Activation, key policy.Key) error {
	if a.Direct() {
		return ErrDirectMessage
	}
	roles, err := g.roles.RoleSetOf(ctx, a.GuildID, a.Actor.ID)
	if err != nil {
		return &ExternalServiceError{Op: "fetch roles", Err: err}
	}
	if err := g.policy.Check(key, roles); err != nil {
		if errors.Is(err, policy.ErrDenied) {
			return &UnauthorizedError{Key: key, ActorID: a.Actor.ID}
		}
		return err
	}
	return nil
}
