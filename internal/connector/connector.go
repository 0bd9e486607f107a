package connector

import (
	"context"

	"github.com/h1v3-io/lcst/internal/identity"
	"github.com/h1v3-io/lcst/internal/workflow"
)

// Connector is the interface for chat platforms the workflows run on.
type Connector interface {
	// Name returns the connector type (e.g., "slack").
	Name() string
	// Start begins listening for interactions. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
}

// Platform is a connector that also provides every collaborator the
// workflows drive.
type Platform interface {
	Connector
	workflow.Channels
	workflow.Collector
	workflow.Replier
	workflow.RoleSource
	identity.Members
}

// ActivationHandler receives control presses. It reports whether a
// workflow claimed the activation.
type ActivationHandler func(ctx context.Context, a *workflow.Activation) bool
