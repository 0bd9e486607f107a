package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/h1v3-io/lcst/internal/identity"
	"github.com/h1v3-io/lcst/internal/logbuf"
	"github.com/h1v3-io/lcst/internal/ticket"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

// mockService implements Service for testing.
type mockService struct {
	tickets []*protocol.Ticket
	filters []ticket.Filter
	links   []identity.Link
	panels  []postPanelRequest
	ran     []string
	failing error
}

func (m *mockService) Workflows() []string { return []string{"LCST::N", "LCST::O"} }

func (m *mockService) ListTickets(_ context.Context, f ticket.Filter) ([]*protocol.Ticket, error) {
	m.filters = append(m.filters, f)
	if m.failing != nil {
		return nil, m.failing
	}
	return m.tickets, nil
}

func (m *mockService) GetTicket(_ context.Context, id string) (*protocol.Ticket, error) {
	for _, t := range m.tickets {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ticket.ErrNotFound, id)
}

func (m *mockService) LinkProfile(_ context.Context, chatID, name string) (*identity.Link, error) {
	if name == "ghost" {
		return nil, fmt.Errorf("%w: %q", identity.ErrProfileNotFound, name)
	}
	l := identity.Link{ChatID: chatID, ExternalID: "hhbr-" + name, ExternalName: name}
	m.links = append(m.links, l)
	return &l, nil
}

func (m *mockService) PostPanel(_ context.Context, wf, channelID string) (*protocol.Message, error) {
	if wf != "notes" && wf != "tickets" {
		return nil, fmt.Errorf("%w: workflow %q", ErrNotFound, wf)
	}
	m.panels = append(m.panels, postPanelRequest{Workflow: wf, ChannelID: channelID})
	return &protocol.Message{ID: "1709294400.000100", ChannelID: channelID}, nil
}

func (m *mockService) Jobs() []JobInfo {
	return []JobInfo{{Name: "digest", Schedule: "0 9 * * 1-5"}}
}

func (m *mockService) RunJob(_ context.Context, name string) error {
	if name != "digest" {
		return fmt.Errorf("%w: job %q", ErrNotFound, name)
	}
	m.ran = append(m.ran, name)
	return nil
}

func newTestServer(svc Service, key string) *Server {
	return NewServer(svc, Config{Host: "127.0.0.1", Port: 0, Key: key}, nil, nil)
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := do(t, newTestServer(&mockService{}, ""), "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	var body struct {
		Status    string   `json:"status"`
		Workflows []string `json:"workflows"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Status != "ok" || len(body.Workflows) != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestListTickets(t *testing.T) {
	svc := &mockService{
		tickets: []*protocol.Ticket{
			{ID: "t1", OwnerID: "U1", Status: protocol.TicketOpen},
		},
	}
	w := do(t, newTestServer(svc, ""), "GET", "/api/tickets?status=open&owner=U1&limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	f := svc.filters[0]
	if f.Status == nil || *f.Status != protocol.TicketOpen || f.OwnerID != "U1" || f.Limit != 10 {
		t.Errorf("filter = %+v", f)
	}
	var got []protocol.Ticket
	json.NewDecoder(w.Body).Decode(&got)
	if len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("tickets = %+v", got)
	}
}

func TestListTickets_Empty(t *testing.T) {
	w := do(t, newTestServer(&mockService{}, ""), "GET", "/api/tickets", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestListTickets_BadStatus(t *testing.T) {
	svc := &mockService{}
	w := do(t, newTestServer(svc, ""), "GET", "/api/tickets?status=pending", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(svc.filters) != 0 {
		t.Error("store should not be queried")
	}
}

func TestListTickets_StoreError(t *testing.T) {
	svc := &mockService{failing: fmt.Errorf("ticket: list: disk full")}
	w := do(t, newTestServer(svc, ""), "GET", "/api/tickets", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestGetTicket(t *testing.T) {
	svc := &mockService{tickets: []*protocol.Ticket{{ID: "t1"}}}
	srv := newTestServer(svc, "")

	if w := do(t, srv, "GET", "/api/tickets/t1", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if w := do(t, srv, "GET", "/api/tickets/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestPostLink(t *testing.T) {
	svc := &mockService{}
	srv := newTestServer(svc, "")

	w := do(t, srv, "POST", "/api/links", `{"chat_id":"U1","external_name":"Bob"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var link identity.Link
	json.NewDecoder(w.Body).Decode(&link)
	if link.ExternalID != "hhbr-Bob" || len(svc.links) != 1 {
		t.Errorf("link = %+v", link)
	}

	tests := []struct {
		name, body string
		want       int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing name", `{"chat_id":"U1"}`, http.StatusBadRequest},
		{"unknown profile", `{"chat_id":"U1","external_name":"ghost"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, srv, "POST", "/api/links", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestPostPanel(t *testing.T) {
	svc := &mockService{}
	srv := newTestServer(svc, "")

	w := do(t, srv, "POST", "/api/panels", `{"workflow":"notes","channel_id":"C1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["message_id"] != "1709294400.000100" || body["channel_id"] != "C1" {
		t.Errorf("body = %v", body)
	}

	if w := do(t, srv, "POST", "/api/panels", `{"workflow":"polls","channel_id":"C1"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown workflow: status = %d, want 404", w.Code)
	}
	if w := do(t, srv, "POST", "/api/panels", `{"workflow":"notes"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing channel: status = %d, want 400", w.Code)
	}
	if len(svc.panels) != 1 {
		t.Errorf("panels = %+v", svc.panels)
	}
}

func TestJobs(t *testing.T) {
	svc := &mockService{}
	srv := newTestServer(svc, "")

	w := do(t, srv, "GET", "/api/jobs", "")
	var jobs []JobInfo
	json.NewDecoder(w.Body).Decode(&jobs)
	if len(jobs) != 1 || jobs[0].Name != "digest" {
		t.Errorf("jobs = %+v", jobs)
	}

	if w := do(t, srv, "POST", "/api/jobs/digest/run", ""); w.Code != http.StatusOK {
		t.Errorf("run: status = %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/jobs/backup/run", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown job: status = %d, want 404", w.Code)
	}
	if len(svc.ran) != 1 {
		t.Errorf("ran = %v", svc.ran)
	}
}

func TestGetLogs(t *testing.T) {
	buf := logbuf.New(10)
	now := time.Now()
	buf.Write(logbuf.Entry{Time: now, Level: "DEBUG", Message: "noise"})
	buf.Write(logbuf.Entry{Time: now, Level: "INFO", Message: "claimed", Attrs: map[string]any{"event": "e1"}})
	buf.Write(logbuf.Entry{Time: now, Level: "ERROR", Message: "failed", Attrs: map[string]any{"event": "e2"}})
	srv := NewServer(&mockService{}, Config{}, slog.Default(), buf)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"noise", "claimed", "failed"}},
		{"?level=warn", []string{"failed"}},
		{"?event=e1", []string{"claimed"}},
		{"?limit=1", []string{"failed"}},
		{fmt.Sprintf("?since=%d", now.Add(time.Minute).UnixMilli()), nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := do(t, srv, "GET", "/api/logs"+tt.query, "")
			var entries []logbuf.Entry
			json.NewDecoder(w.Body).Decode(&entries)
			if len(entries) != len(tt.want) {
				t.Fatalf("entries = %+v", entries)
			}
			for i, msg := range tt.want {
				if entries[i].Message != msg {
					t.Errorf("entry %d = %q, want %q", i, entries[i].Message, msg)
				}
			}
		})
	}

	if w := do(t, srv, "GET", "/api/logs?level=loud", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad level: status = %d, want 400", w.Code)
	}
}

func TestGetLogs_NoBuffer(t *testing.T) {
	w := do(t, newTestServer(&mockService{}, ""), "GET", "/api/logs", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestAuth_Required(t *testing.T) {
	srv := newTestServer(&mockService{}, "secret-key")

	// No auth header
	req := httptest.NewRequest("GET", "/api/tickets", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("no auth: status = %d, want 401", w.Code)
	}

	// Wrong key
	req = httptest.NewRequest("GET", "/api/tickets", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", w.Code)
	}

	// Correct key
	req = httptest.NewRequest("GET", "/api/tickets", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("correct key: status = %d, want 200", w.Code)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	srv := newTestServer(&mockService{}, "secret-key")

	// Health should NOT require auth
	if w := do(t, srv, "GET", "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("health should not require auth, status = %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	w := do(t, newTestServer(&mockService{}, ""), "OPTIONS", "/api/tickets", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS origin = %q", got)
	}
}
