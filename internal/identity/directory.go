package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/h1v3-io/lcst/internal/workflow"
)

// ErrProfileNotFound is returned when the directory has no such user.
var ErrProfileNotFound = errors.New("identity: profile not found")

// Directory is a client for the Habbo public users API.
type Directory struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// DirectoryConfig holds Directory options.
type DirectoryConfig struct {
	BaseURL   string        // e.g. "https://www.habbo.com.br"
	RateLimit float64       // requests per second; 0 = 2
	Timeout   time.Duration // per request; 0 = 10s
}

func NewDirectory(cfg DirectoryConfig) *Directory {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Directory{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
	}
}

type directoryUser struct {
	UniqueID     string `json:"uniqueId"`
	Name         string `json:"name"`
	FigureString string `json:"figureString"`
	Motto        string `json:"motto"`
}

// Lookup fetches the public profile named name.
func (d *Directory) Lookup(ctx context.Context, name string) (*workflow.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrProfileNotFound
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("identity: directory: %w", err)
	}

	endpoint := d.baseURL + "/api/public/users?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: directory: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: directory: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("identity: directory: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var u directoryUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("identity: directory: decode: %w", err)
	}
	if u.UniqueID == "" {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return &workflow.Profile{
		ExternalID: u.UniqueID,
		Name:       u.Name,
		AvatarURL:  d.AvatarURL(u.FigureString),
		Motto:      u.Motto,
	}, nil
}

// AvatarURL renders a figure string as a full-body avatar image URL.
func (d *Directory) AvatarURL(figure string) string {
	if figure == "" {
		return ""
	}
	return d.baseURL + "/habbo-imaging/avatarimage?figure=" + url.QueryEscape(figure) + "&size=l"
}
