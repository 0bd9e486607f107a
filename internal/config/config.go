package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/h1v3-io/lcst/internal/policy"
)

// Config is the top-level lcst configuration.
type Config struct {
	DataDir   string          `json:"data_dir" yaml:"data_dir"`
	Slack     SlackConfig     `json:"slack" yaml:"slack"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Channels  ChannelsConfig  `json:"channels" yaml:"channels"`
	Roles     RolesConfig     `json:"roles" yaml:"roles"`
	Policy    PolicyConfig    `json:"policy" yaml:"policy"`
	Directory DirectoryConfig `json:"directory" yaml:"directory"`
	API       APIConfig       `json:"api" yaml:"api"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
}

// SlackConfig holds Slack app credentials and connector tuning.
type SlackConfig struct {
	BotToken      string `json:"bot_token" yaml:"bot_token"`
	AppToken      string `json:"app_token" yaml:"app_token"`
	APIURL        string `json:"api_url,omitempty" yaml:"api_url,omitempty"`
	PromptTimeout int    `json:"prompt_timeout,omitempty" yaml:"prompt_timeout,omitempty"` // seconds, default 600
	CacheTTL      int    `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`           // seconds, default 60
}

func (s SlackConfig) PromptTimeoutDuration() time.Duration {
	return time.Duration(s.PromptTimeout) * time.Second
}

func (s SlackConfig) CacheTTLDuration() time.Duration {
	return time.Duration(s.CacheTTL) * time.Second
}

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects the ticket and link database.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`                   // "sqlite" (default) or "postgres"
	Path   string `json:"path,omitempty" yaml:"path,omitempty"` // sqlite file, default <data_dir>/lcst.db
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`   // postgres connection string
}

// ChannelsConfig names the channels the workflows post to.
type ChannelsConfig struct {
	ApprovalRequest string `json:"approval_request" yaml:"approval_request"`
	NotesRecord     string `json:"notes_record" yaml:"notes_record"`
	TicketsArchive  string `json:"tickets_archive" yaml:"tickets_archive"`
	TicketsCategory string `json:"tickets_category,omitempty" yaml:"tickets_category,omitempty"`
}

// RolesConfig describes the role hierarchy and the roles each policy
// category grants. Explicit Categories lists win over Thresholds.
type RolesConfig struct {
	Sectors    policy.Hierarchy             `json:"sectors" yaml:"sectors"`
	Thresholds map[policy.Category]string   `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Categories map[policy.Category][]string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Review     string                       `json:"review" yaml:"review"`
	Staff      string                       `json:"staff" yaml:"staff"`
}

// PolicyConfig overrides the built-in action rules.
type PolicyConfig struct {
	Rules     []policy.Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
	RulesFile string        `json:"rules_file,omitempty" yaml:"rules_file,omitempty"`
}

// RulesFile is the structure of a policy rules file.
type RulesFile struct {
	Rules []policy.Rule `json:"rules" yaml:"rules"`
}

// DirectoryConfig points at the external community profile directory.
type DirectoryConfig struct {
	BaseURL   string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // requests per second
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	Key  string `json:"api_key" yaml:"api_key"`
}

// SchedulerConfig holds cron specs of periodic jobs; empty disables a job.
type SchedulerConfig struct {
	Digest string `json:"digest,omitempty" yaml:"digest,omitempty"`
}

// Load reads configuration from a JSON or YAML file, chosen by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := unmarshal(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if cfg.Policy.RulesFile != "" {
		rf, err := loadRulesFile(filepath.Dir(path), cfg.DataDir, cfg.Policy.RulesFile)
		if err != nil {
			return nil, err
		}
		applyRulesFile(&cfg, rf)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func unmarshal(path string, data []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	default:
		return json.Unmarshal(data, v)
	}
}

// loadRulesFile reads and parses a policy rules file.
// Relative paths are resolved against configDir first, then dataDir.
func loadRulesFile(configDir, dataDir, rulesFile string) (*RulesFile, error) {
	path := rulesFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, rulesFile)
		if _, err := os.Stat(path); err != nil {
			path = filepath.Join(dataDir, rulesFile)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read rules file %s: %w", path, err)
	}
	var rf RulesFile
	if err := unmarshal(path, data, &rf); err != nil {
		return nil, fmt.Errorf("config: parse rules file %s: %w", path, err)
	}
	return &rf, nil
}

// applyRulesFile uses the file's rules only when the config defines none.
func applyRulesFile(cfg *Config, rf *RulesFile) {
	if len(cfg.Policy.Rules) == 0 {
		cfg.Policy.Rules = rf.Rules
	}
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "/data"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "lcst.db")
	}
	if c.Slack.PromptTimeout == 0 {
		c.Slack.PromptTimeout = 600
	}
	if c.Slack.CacheTTL == 0 {
		c.Slack.CacheTTL = 60
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// LoadFromEnv builds a config from environment variables with LCST_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DataDir: getenv("LCST_DATA_DIR", "/data"),
		Slack: SlackConfig{
			BotToken:      os.Getenv("LCST_SLACK_BOT_TOKEN"),
			AppToken:      os.Getenv("LCST_SLACK_APP_TOKEN"),
			APIURL:        os.Getenv("LCST_SLACK_API_URL"),
			PromptTimeout: getenvInt("LCST_SLACK_PROMPT_TIMEOUT", 0),
			CacheTTL:      getenvInt("LCST_SLACK_CACHE_TTL", 0),
		},
		Store: StoreConfig{
			Driver: os.Getenv("LCST_STORE_DRIVER"),
			Path:   os.Getenv("LCST_STORE_PATH"),
			DSN:    os.Getenv("LCST_STORE_DSN"),
		},
		Channels: ChannelsConfig{
			ApprovalRequest: os.Getenv("LCST_CHANNEL_APPROVAL_REQUEST"),
			NotesRecord:     os.Getenv("LCST_CHANNEL_NOTES_RECORD"),
			TicketsArchive:  os.Getenv("LCST_CHANNEL_TICKETS_ARCHIVE"),
			TicketsCategory: os.Getenv("LCST_CHANNEL_TICKETS_CATEGORY"),
		},
		Roles: RolesConfig{
			Review: os.Getenv("LCST_ROLE_REVIEW"),
			Staff:  os.Getenv("LCST_ROLE_STAFF"),
		},
		Directory: DirectoryConfig{
			BaseURL: os.Getenv("LCST_DIRECTORY_URL"),
		},
		API: APIConfig{
			Host: os.Getenv("LCST_API_HOST"),
			Port: getenvInt("LCST_API_PORT", 0),
			Key:  os.Getenv("LCST_API_KEY"),
		},
		Scheduler: SchedulerConfig{
			Digest: os.Getenv("LCST_DIGEST_SCHEDULE"),
		},
	}

	if v := os.Getenv("LCST_DIRECTORY_RATE_LIMIT"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: LCST_DIRECTORY_RATE_LIMIT: invalid number %q", v)
		}
		cfg.Directory.RateLimit = rate
	}

	// Category role lists, e.g. LCST_ROLES_LEADERSHIP=S01,S02
	for _, cat := range []policy.Category{policy.Initiate, policy.Leadership} {
		key := "LCST_ROLES_" + strings.ToUpper(string(cat))
		if ids := parseList(os.Getenv(key)); len(ids) > 0 {
			if cfg.Roles.Categories == nil {
				cfg.Roles.Categories = make(map[policy.Category][]string)
			}
			cfg.Roles.Categories[cat] = ids
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// CategoryRoles resolves the role ids each policy category grants.
func (c *Config) CategoryRoles() (map[policy.Category][]string, error) {
	thresholds := make(map[policy.Category]string)
	for cat, key := range c.Roles.Thresholds {
		if _, explicit := c.Roles.Categories[cat]; !explicit {
			thresholds[cat] = key
		}
	}
	out, err := c.Roles.Sectors.Categories(thresholds)
	if err != nil {
		return nil, fmt.Errorf("config: roles: %w", err)
	}
	for cat, ids := range c.Roles.Categories {
		out[cat] = ids
	}
	return out, nil
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Slack.BotToken == "" {
		errs = append(errs, "slack.bot_token is required")
	}
	if c.Slack.AppToken == "" {
		errs = append(errs, "slack.app_token is required")
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, postgres", c.Store.Driver))
	}

	if c.Channels.ApprovalRequest == "" {
		errs = append(errs, "channels.approval_request is required")
	}
	if c.Channels.NotesRecord == "" {
		errs = append(errs, "channels.notes_record is required")
	}
	if c.Channels.TicketsArchive == "" {
		errs = append(errs, "channels.tickets_archive is required")
	}

	if c.Roles.Review == "" {
		errs = append(errs, "roles.review is required")
	}
	if c.Roles.Staff == "" {
		errs = append(errs, "roles.staff is required")
	}
	for i, r := range c.Roles.Sectors {
		if r.Key == "" || r.ID == "" {
			errs = append(errs, fmt.Sprintf("roles.sectors[%d] needs key and id", i))
		}
	}
	if cats, err := c.CategoryRoles(); err != nil {
		errs = append(errs, err.Error())
	} else {
		for _, cat := range []policy.Category{policy.Initiate, policy.Leadership} {
			if len(cats[cat]) == 0 {
				errs = append(errs, fmt.Sprintf("roles: category %s grants no roles", cat))
			}
		}
	}

	for i, r := range c.Policy.Rules {
		if r.Workflow == "" || r.Action == "" {
			errs = append(errs, fmt.Sprintf("policy.rules[%d] needs workflow and action", i))
		}
		if r.Category != policy.Initiate && r.Category != policy.Leadership {
			errs = append(errs, fmt.Sprintf("policy.rules[%d].category %q is unknown", i, r.Category))
		}
	}

	if c.Scheduler.Digest != "" {
		if _, err := cron.ParseStandard(c.Scheduler.Digest); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler.digest: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
