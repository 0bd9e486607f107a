package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"

	apiPkg "github.com/h1v3-io/lcst/internal/api"
	"github.com/h1v3-io/lcst/internal/config"
	slackconn "github.com/h1v3-io/lcst/internal/connector/slack"
	"github.com/h1v3-io/lcst/internal/identity"
	"github.com/h1v3-io/lcst/internal/logbuf"
	"github.com/h1v3-io/lcst/internal/policy"
	"github.com/h1v3-io/lcst/internal/scheduler"
	"github.com/h1v3-io/lcst/internal/ticket"
	"github.com/h1v3-io/lcst/internal/workflow"
	"github.com/h1v3-io/lcst/internal/workflow/notes"
	"github.com/h1v3-io/lcst/internal/workflow/tickets"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

func main() {
	configPath := flag.StringP("config", "c", "", "Path to config file (JSON or YAML); LCST_* env vars when empty")
	verbose := flag.BoolP("verbose", "v", false, "Verbose logging")
	bufferLevel := flag.String("log-buffer-level", "debug", "Minimum level kept for GET /api/logs")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	captureLevel, err := logbuf.ParseLevel(*bufferLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log-buffer-level: %v\n", err)
		os.Exit(2)
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf).WithCaptureLevel(captureLevel))

	// Load config (2 modes: file, env)
	var cfg *config.Config
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
		if err == nil {
			err = cfg.Validate()
		}
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("lcstd starting", "store", cfg.Store.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Ticket store + identity links on the same database
	store, db, dialect, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to open ticket store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	links, err := identity.NewLinkStore(ctx, db, dialect)
	if err != nil {
		logger.Error("failed to open link store", "error", err)
		os.Exit(1)
	}

	var directory *identity.Directory
	var profiles identity.Profiles
	if cfg.Directory.BaseURL != "" {
		directory = identity.NewDirectory(identity.DirectoryConfig{
			BaseURL:   cfg.Directory.BaseURL,
			RateLimit: cfg.Directory.RateLimit,
		})
		profiles = directory
	}

	// 2. Chat platform
	slackConn, err := slackconn.New(slackconn.Config{
		BotToken:      cfg.Slack.BotToken,
		AppToken:      cfg.Slack.AppToken,
		APIURL:        cfg.Slack.APIURL,
		PromptTimeout: cfg.Slack.PromptTimeoutDuration(),
		CacheTTL:      cfg.Slack.CacheTTLDuration(),
	}, nil, logger)
	if err != nil {
		logger.Error("failed to init slack connector", "error", err)
		os.Exit(1)
	}

	// 3. Authorization: workflow defaults, then configured overrides
	rules := append(notes.Rules(), tickets.Rules()...)
	rules = append(rules, cfg.Policy.Rules...)
	table, err := policy.NewTable(rules...)
	if err != nil {
		logger.Error("invalid policy", "error", err)
		os.Exit(1)
	}
	categories, err := cfg.CategoryRoles()
	if err != nil {
		logger.Error("invalid role categories", "error", err)
		os.Exit(1)
	}
	evaluator, err := policy.NewEvaluator(table, categories)
	if err != nil {
		logger.Error("invalid policy", "error", err)
		os.Exit(1)
	}
	gate := workflow.NewGate(evaluator, slackConn)

	// 4. Workflows
	resolver := identity.NewResolver(slackConn, profiles, links, logger)
	notesMachine := notes.New(notes.Config{
		ReviewChannelID: cfg.Channels.ApprovalRequest,
		RecordChannelID: cfg.Channels.NotesRecord,
		ReviewRoleID:    cfg.Roles.Review,
		Sectors:         cfg.Roles.Sectors,
	}, notes.Deps{
		Gate:       gate,
		Collector:  slackConn,
		Identities: resolver,
		Channels:   slackConn,
		Replier:    slackConn,
		Roles:      slackConn,
	}, logger)

	category, err := tickets.ResolveCategory(ctx, slackConn, cfg.Channels.TicketsCategory)
	if err != nil {
		logger.Error("invalid tickets category", "error", err)
		os.Exit(1)
	}
	ticketManager, err := tickets.New(tickets.Config{
		Category:         category,
		ArchiveChannelID: cfg.Channels.TicketsArchive,
		StaffRoleID:      cfg.Roles.Staff,
	}, tickets.Deps{
		Gate:     gate,
		Store:    store,
		Channels: slackConn,
		Replier:  slackConn,
	}, logger)
	if err != nil {
		logger.Error("failed to init tickets", "error", err)
		os.Exit(1)
	}

	dispatcher := workflow.NewDispatcher(slackConn, logger)
	for _, h := range []workflow.Handler{notesMachine, ticketManager} {
		if err := dispatcher.Register(h); err != nil {
			logger.Error("failed to register workflow", "error", err)
			os.Exit(1)
		}
		logger.Info("workflow registered", "namespace", h.Namespace())
	}
	slackConn.SetHandler(dispatcher.Dispatch)

	go safeGo(logger, "slack", func() {
		if err := slackConn.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("slack connector exited", "error", err)
		}
	})

	// 5. Scheduler
	sched := scheduler.New(logger)
	if cfg.Scheduler.Digest != "" {
		err := sched.AddJob("digest", cfg.Scheduler.Digest, func(ctx context.Context) error {
			_, err := ticketManager.PostDigest(ctx)
			return err
		})
		if err != nil {
			logger.Error("failed to schedule digest", "error", err)
			os.Exit(1)
		}
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 6. Start API server
	apiSvc := &serviceAdapter{
		dispatcher: dispatcher,
		store:      store,
		links:      links,
		directory:  directory,
		channels:   slackConn,
		sched:      sched,
		panels: map[string]func() (protocol.OutboundMessage, error){
			notes.Workflow:   func() (protocol.OutboundMessage, error) { return notesMachine.Panel(), nil },
			tickets.Workflow: ticketManager.Panel,
		},
	}
	apiSrv := apiPkg.NewServer(apiSvc, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger, logBuf)

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 7. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	slackConn.Stop()
	logger.Info("lcstd stopped")
}

// openStore opens the configured ticket store and returns its connection
// for the stores that share it.
func openStore(ctx context.Context, cfg config.StoreConfig) (ticket.Store, *sql.DB, identity.Dialect, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := ticket.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, 0, err
		}
		return s, s.DB(), identity.Postgres, nil
	default:
		os.MkdirAll(filepath.Dir(cfg.Path), 0o755)
		s, err := ticket.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, 0, err
		}
		return s, s.DB(), identity.SQLite, nil
	}
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
