package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/h1v3-io/lcst/internal/identity"
	"github.com/h1v3-io/lcst/internal/logbuf"
	"github.com/h1v3-io/lcst/internal/ticket"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

// ErrNotFound is wrapped by Service implementations for unknown workflows
// and jobs. It maps to 404.
var ErrNotFound = errors.New("api: not found")

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// JobInfo describes a scheduled job for API responses.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
}

// Service is the interface the API server needs from the daemon.
type Service interface {
	// Workflows lists the registered workflow namespaces.
	Workflows() []string
	ListTickets(ctx context.Context, filter ticket.Filter) ([]*protocol.Ticket, error)
	GetTicket(ctx context.Context, id string) (*protocol.Ticket, error)
	// LinkProfile ties a chat member to the directory profile named externalName.
	LinkProfile(ctx context.Context, chatID, externalName string) (*identity.Link, error)
	// PostPanel posts the entry panel of a workflow to a channel.
	PostPanel(ctx context.Context, workflow, channelID string) (*protocol.Message, error)
	Jobs() []JobInfo
	// RunJob runs a scheduled job immediately.
	RunJob(ctx context.Context, name string) error
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the lcst admin REST API server.
type Server struct {
	svc    Service
	cfg    Config
	logger *slog.Logger
	logs   LogQuerier
	srv    *http.Server
}

// NewServer creates a new API server. logs may be nil.
func NewServer(svc Service, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With("component", "api"),
		logs:   logs,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleGetTicket))
	mux.HandleFunc("POST /api/links", s.requireAuth(s.handlePostLink))
	mux.HandleFunc("POST /api/panels", s.requireAuth(s.handlePostPanel))
	mux.HandleFunc("GET /api/jobs", s.requireAuth(s.handleListJobs))
	mux.HandleFunc("POST /api/jobs/{name}/run", s.requireAuth(s.handleRunJob))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	workflows := s.svc.Workflows()
	if workflows == nil {
		workflows = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "workflows": workflows})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	filter := ticket.Filter{}
	if status := r.URL.Query().Get("status"); status != "" {
		ts := protocol.TicketStatus(status)
		if !ts.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown status %q", status)})
			return
		}
		filter.Status = &ts
	}
	filter.OwnerID = r.URL.Query().Get("owner")
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = n
		}
	}

	tickets, err := s.svc.ListTickets(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tickets == nil {
		tickets = []*protocol.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.GetTicket(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type postLinkRequest struct {
	ChatID       string `json:"chat_id"`
	ExternalName string `json:"external_name"`
}

func (s *Server) handlePostLink(w http.ResponseWriter, r *http.Request) {
	var req postLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.ChatID == "" || req.ExternalName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chat_id and external_name are required"})
		return
	}

	link, err := s.svc.LinkProfile(r.Context(), req.ChatID, req.ExternalName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("profile linked", "chat_id", link.ChatID, "external_name", link.ExternalName)
	writeJSON(w, http.StatusCreated, link)
}

type postPanelRequest struct {
	Workflow  string `json:"workflow"`
	ChannelID string `json:"channel_id"`
}

func (s *Server) handlePostPanel(w http.ResponseWriter, r *http.Request) {
	var req postPanelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Workflow == "" || req.ChannelID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "workflow and channel_id are required"})
		return
	}

	msg, err := s.svc.PostPanel(r.Context(), req.Workflow, req.ChannelID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"channel_id": msg.ChannelID, "message_id": msg.ID})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.svc.Jobs()
	if jobs == nil {
		jobs = []JobInfo{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.svc.RunJob(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "done", "job": name})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	q := r.URL.Query()
	f := logbuf.Filter{
		Limit:     200,
		MinLevel:  slog.LevelDebug,
		Event:     q.Get("event"),
		Component: q.Get("component"),
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if lvl := q.Get("level"); lvl != "" {
		level, err := logbuf.ParseLevel(lvl)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		f.MinLevel = level
	}
	if since := q.Get("since"); since != "" {
		if ms, err := strconv.ParseInt(since, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

// writeError maps lookup failures to 404 and everything else to 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ticket.ErrNotFound),
		errors.Is(err, identity.ErrProfileNotFound),
		errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
