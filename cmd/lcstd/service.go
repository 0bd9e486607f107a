package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	apiPkg "github.com/h1v3-io/lcst/internal/api"
	"github.com/h1v3-io/lcst/internal/identity"
	"github.com/h1v3-io/lcst/internal/scheduler"
	"github.com/h1v3-io/lcst/internal/ticket"
	"github.com/h1v3-io/lcst/internal/workflow"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

// serviceAdapter implements api.Service over the running workflows.
type serviceAdapter struct {
	dispatcher *workflow.Dispatcher
	store      ticket.Store
	links      *identity.LinkStore
	directory  *identity.Directory // nil when no directory is configured
	channels   workflow.Channels
	sched      *scheduler.Scheduler
	panels     map[string]func() (protocol.OutboundMessage, error) // by workflow name
}

func (s *serviceAdapter) Workflows() []string {
	namespaces := s.dispatcher.Namespaces()
	out := make([]string, len(namespaces))
	for i, ns := range namespaces {
		out[i] = string(ns)
	}
	return out
}

func (s *serviceAdapter) ListTickets(ctx context.Context, filter ticket.Filter) ([]*protocol.Ticket, error) {
	return s.store.List(ctx, filter)
}

func (s *serviceAdapter) GetTicket(ctx context.Context, id string) (*protocol.Ticket, error) {
	return s.store.Get(ctx, id)
}

func (s *serviceAdapter) LinkProfile(ctx context.Context, chatID, externalName string) (*identity.Link, error) {
	if s.directory == nil {
		return nil, errors.New("no profile directory configured")
	}
	p, err := s.directory.Lookup(ctx, externalName)
	if err != nil {
		return nil, err
	}
	link := identity.Link{ChatID: chatID, ExternalID: p.ExternalID, ExternalName: p.Name}
	if err := s.links.Put(ctx, link); err != nil {
		return nil, err
	}
	return s.links.ByChatID(ctx, chatID)
}

func (s *serviceAdapter) PostPanel(ctx context.Context, wf, channelID string) (*protocol.Message, error) {
	panel, ok := s.panels[wf]
	if !ok {
		names := make([]string, 0, len(s.panels))
		for name := range s.panels {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: workflow %q (have %v)", apiPkg.ErrNotFound, wf, names)
	}
	msg, err := panel()
	if err != nil {
		return nil, fmt.Errorf("panel %s: %w", wf, err)
	}
	return s.channels.SendMessage(ctx, channelID, msg)
}

func (s *serviceAdapter) Jobs() []apiPkg.JobInfo {
	jobs := s.sched.Jobs()
	out := make([]apiPkg.JobInfo, len(jobs))
	for i, j := range jobs {
		out[i] = apiPkg.JobInfo{Name: j.Name, Schedule: j.Schedule, Next: j.Next}
	}
	return out
}

func (s *serviceAdapter) RunJob(ctx context.Context, name string) error {
	err := s.sched.Run(ctx, name)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		return fmt.Errorf("%w: %v", apiPkg.ErrNotFound, err)
	}
	return err
}
