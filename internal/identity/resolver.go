// Package identity resolves free-form user input to a guild member and
// their external community profile.
//
// Input may be a chat mention ("<@U123>", "<@U123|alice>"), a bare chat
// user id, a chat handle ("@alice") or an external nickname. Nicknames are
// looked up in the public directory and mapped to a member through the
// persisted link table.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/h1v3-io/lcst/internal/workflow"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

// Members looks up guild members on the chat platform. Both methods
// return workflow.ErrIdentityNotFound for unknown members.
type Members interface {
	FetchMember(ctx context.Context, guildID, id string) (*protocol.Actor, error)
	FindMember(ctx context.Context, guildID, handle string) (*protocol.Actor, error)
}

// Profiles looks up external profiles by name.
type Profiles interface {
	Lookup(ctx context.Context, name string) (*workflow.Profile, error)
}

// Links maps chat members to external profiles.
type Links interface {
	ByChatID(ctx context.Context, chatID string) (*Link, error)
	ByExternalID(ctx context.Context, externalID string) (*Link, error)
	ByExternalName(ctx context.Context, name string) (*Link, error)
}

// Resolver implements workflow.IdentityResolver.
type Resolver struct {
	members  Members
	profiles Profiles // nil when no directory is configured
	links    Links
	logger   *slog.Logger
}

func NewResolver(members Members, profiles Profiles, links Links, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		members:  members,
		profiles: profiles,
		links:    links,
		logger:   logger.With("component", "identity"),
	}
}

var (
	mentionRe = regexp.MustCompile(`^<@!?([A-Za-z0-9]+)(?:\|[^>]*)?>$`)
	userIDRe  = regexp.MustCompile(`^(?:[UW][A-Z0-9]{6,}|\d{17,20})$`)
)

// ParseMention extracts a chat user id from a mention or a bare id.
func ParseMention(raw string) (string, bool) {
	if m := mentionRe.FindStringSubmatch(raw); m != nil {
		return m[1], true
	}
	if userIDRe.MatchString(raw) {
		return raw, true
	}
	return "", false
}

func (r *Resolver) ResolveActor(ctx context.Context, guildID, raw string) (*workflow.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, workflow.ErrIdentityNotFound
	}

	if id, ok := ParseMention(raw); ok {
		member, err := r.members.FetchMember(ctx, guildID, id)
		if err != nil {
			return nil, err
		}
		return r.withProfile(ctx, member), nil
	}

	if handle, ok := strings.CutPrefix(raw, "@"); ok {
		member, err := r.members.FindMember(ctx, guildID, handle)
		switch {
		case err == nil:
			return r.withProfile(ctx, member), nil
		case !errors.Is(err, workflow.ErrIdentityNotFound):
			return nil, err
		}
		raw = handle
	}

	return r.byNickname(ctx, guildID, raw)
}

// byNickname resolves an external nickname through the directory and the
// link table.
func (r *Resolver) byNickname(ctx context.Context, guildID, nick string) (*workflow.Identity, error) {
	var (
		profile *workflow.Profile
		link    *Link
		err     error
	)
	if r.profiles != nil {
		profile, err = r.profiles.Lookup(ctx, nick)
		switch {
		case errors.Is(err, ErrProfileNotFound):
			return nil, fmt.Errorf("%w: no profile named %q", workflow.ErrIdentityNotFound, nick)
		case err != nil:
			return nil, err
		}
		link, err = r.links.ByExternalID(ctx, profile.ExternalID)
	} else {
		link, err = r.links.ByExternalName(ctx, nick)
	}
	if errors.Is(err, ErrLinkNotFound) {
		r.logger.Info("profile not linked to a member", "nick", nick)
		return nil, fmt.Errorf("%w: %q is not linked", workflow.ErrIdentityNotFound, nick)
	}
	if err != nil {
		return nil, err
	}

	member, err := r.members.FetchMember(ctx, guildID, link.ChatID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = &workflow.Profile{ExternalID: link.ExternalID, Name: link.ExternalName}
	}
	return &workflow.Identity{Actor: *member, Profile: profile}, nil
}

// withProfile attaches the member's linked profile when there is one.
// Profile lookups never fail the resolution.
func (r *Resolver) withProfile(ctx context.Context, member *protocol.Actor) *workflow.Identity {
	id := &workflow.Identity{Actor: *member}
	link, err := r.links.ByChatID(ctx, member.ID)
	if err != nil {
		if !errors.Is(err, ErrLinkNotFound) {
			r.logger.Warn("link lookup failed", "member", member.ID, "error", err)
		}
		return id
	}
	id.Profile = &workflow.Profile{ExternalID: link.ExternalID, Name: link.ExternalName}
	if r.profiles == nil {
		return id
	}
	fresh, err := r.profiles.Lookup(ctx, link.ExternalName)
	if err != nil {
		r.logger.Debug("profile refresh failed", "member", member.ID, "name", link.ExternalName, "error", err)
		return id
	}
	id.Profile = fresh
	return id
}
