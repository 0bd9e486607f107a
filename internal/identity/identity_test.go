package identity

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	_ "modernc.org/sqlite"

	"github.com/h1v3-io/lcst/internal/workflow"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

type fakeMembers struct {
	byID     map[string]protocol.Actor
	byHandle map[string]string
}

func (f *fakeMembers) FetchMember(_ context.Context, _ string, id string) (*protocol.Actor, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, workflow.ErrIdentityNotFound
	}
	return &a, nil
}

func (f *fakeMembers) FindMember(ctx context.Context, guildID, handle string) (*protocol.Actor, error) {
	id, ok := f.byHandle[handle]
	if !ok {
		return nil, workflow.ErrIdentityNotFound
	}
	return f.FetchMember(ctx, guildID, id)
}

type fakeProfiles map[string]*workflow.Profile

func (f fakeProfiles) Lookup(_ context.Context, name string) (*workflow.Profile, error) {
	p, ok := f[name]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

func newTestLinks(t *testing.T) *LinkStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "links.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewLinkStore(context.Background(), db, SQLite)
	if err != nil {
		t.Fatalf("NewLinkStore: %v", err)
	}
	return s
}

func newTestResolver(t *testing.T, profiles Profiles) (*Resolver, *LinkStore) {
	t.Helper()
	links := newTestLinks(t)
	ctx := context.Background()
	links.Put(ctx, Link{ChatID: "U100", ExternalID: "hhbr-bob", ExternalName: "BobHabbo"})
	members := &fakeMembers{
		byID: map[string]protocol.Actor{
			"U100": {ID: "U100", Tag: "bob"},
			"U200": {ID: "U200", Tag: "dave"},
		},
		byHandle: map[string]string{"bob": "U100", "dave": "U200"},
	}
	return NewResolver(members, profiles, links, nil), links
}

func TestParseMention(t *testing.T) {
	tests := []struct {
		raw string
		id  string
		ok  bool
	}{
		{"<@U100>", "U100", true},
		{"<@U100|bob>", "U100", true},
		{"<@!123456789012345678>", "123456789012345678", true},
		{"U0123ABCD", "U0123ABCD", true},
		{"123456789012345678", "123456789012345678", true},
		{"BobHabbo", "", false},
		{"@bob", "", false},
		{"<@>", "", false},
	}
	for _, tt := range tests {
		id, ok := ParseMention(tt.raw)
		if ok != tt.ok || id != tt.id {
			t.Errorf("ParseMention(%q) = %q, %v", tt.raw, id, ok)
		}
	}
}

func TestResolveActor(t *testing.T) {
	profiles := fakeProfiles{
		"BobHabbo": {ExternalID: "hhbr-bob", Name: "BobHabbo", AvatarURL: "https://img/bob"},
		"Ghost":    {ExternalID: "hhbr-ghost", Name: "Ghost"},
	}
	r, _ := newTestResolver(t, profiles)
	ctx := context.Background()

	tests := []struct {
		name    string
		raw     string
		member  string
		profile string // expected avatar; "" = no profile
		err     error
	}{
		{"mention with profile", "<@U100>", "U100", "https://img/bob", nil},
		{"mention without link", "<@U200|dave>", "U200", "", nil},
		{"bare id", " U100 ", "U100", "https://img/bob", nil},
		{"handle", "@dave", "U200", "", nil},
		{"handle falls back to nickname", "@BobHabbo", "U100", "https://img/bob", nil},
		{"nickname", "BobHabbo", "U100", "https://img/bob", nil},
		{"unknown nickname", "Nobody", "", "", workflow.ErrIdentityNotFound},
		{"unlinked nickname", "Ghost", "", "", workflow.ErrIdentityNotFound},
		{"mention of non member", "<@U999>", "", "", workflow.ErrIdentityNotFound},
		{"empty", "  ", "", "", workflow.ErrIdentityNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := r.ResolveActor(ctx, "T1", tt.raw)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveActor: %v", err)
			}
			if id.Actor.ID != tt.member {
				t.Errorf("member = %q, want %q", id.Actor.ID, tt.member)
			}
			avatar := ""
			if id.Profile != nil {
				avatar = id.Profile.AvatarURL
			}
			if avatar != tt.profile {
				t.Errorf("avatar = %q, want %q", avatar, tt.profile)
			}
		})
	}
}

func TestResolveActor_WithoutDirectory(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	id, err := r.ResolveActor(context.Background(), "T1", "bobhabbo")
	if err != nil {
		t.Fatalf("ResolveActor: %v", err)
	}
	if id.Actor.ID != "U100" || id.Profile == nil || id.Profile.ExternalID != "hhbr-bob" {
		t.Errorf("identity = %+v", id)
	}
}

func TestLinkStore(t *testing.T) {
	s := newTestLinks(t)
	ctx := context.Background()

	if _, err := s.ByChatID(ctx, "U1"); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
	if err := s.Put(ctx, Link{ChatID: "U1", ExternalID: "x-1", ExternalName: "Alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, Link{ChatID: "U1", ExternalID: "x-2", ExternalName: "Beta"}); err != nil {
		t.Fatalf("relink: %v", err)
	}
	l, err := s.ByChatID(ctx, "U1")
	if err != nil || l.ExternalID != "x-2" || l.ExternalName != "Beta" {
		t.Errorf("ByChatID = %+v, %v", l, err)
	}
	if _, err := s.ByExternalID(ctx, "x-1"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("old external id still linked: %v", err)
	}
	if l, err := s.ByExternalName(ctx, "BETA"); err != nil || l.ChatID != "U1" {
		t.Errorf("ByExternalName = %+v, %v", l, err)
	}
	if err := s.Put(ctx, Link{ChatID: "U2"}); err == nil {
		t.Error("expected error for incomplete link")
	}
}

func TestLinkStore_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS profiles")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_profiles_name")).WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewLinkStore(context.Background(), db, Postgres)
	assert.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4)")).
		WithArgs("U1", "x-1", "Alpha", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	assert.NoError(t, s.Put(context.Background(), Link{ChatID: "U1", ExternalID: "x-1", ExternalName: "Alpha"}))

	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE external_id = $1")).
		WithArgs("x-1").
		WillReturnRows(sqlmock.NewRows([]string{"chat_id", "external_id", "external_name", "created_at"}).
			AddRow("U1", "x-1", "Alpha", "2024-03-01T12:00:00Z"))
	l, err := s.ByExternalID(context.Background(), "x-1")
	assert.NoError(t, err)
	assert.Equal(t, "U1", l.ChatID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/public/users" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("name") {
		case "Bob Habbo":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"uniqueId":"hhbr-123","name":"Bob Habbo","figureString":"hr-100.hd-180","motto":"oi"}`))
		case "Broken":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("upstream down"))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not-found"}`))
		}
	}))
	defer srv.Close()

	d := NewDirectory(DirectoryConfig{BaseURL: srv.URL + "/", RateLimit: 100})
	ctx := context.Background()

	p, err := d.Lookup(ctx, "Bob Habbo")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if p.ExternalID != "hhbr-123" || p.Name != "Bob Habbo" || p.Motto != "oi" {
		t.Errorf("profile = %+v", p)
	}
	if want := srv.URL + "/habbo-imaging/avatarimage?figure=hr-100.hd-180&size=l"; p.AvatarURL != want {
		t.Errorf("avatar = %q, want %q", p.AvatarURL, want)
	}

	if _, err := d.Lookup(ctx, "Nobody"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
	if _, err := d.Lookup(ctx, "Broken"); err == nil || errors.Is(err, ErrProfileNotFound) {
		t.Errorf("expected upstream error, got %v", err)
	}
	if _, err := d.Lookup(ctx, ""); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound for empty name, got %v", err)
	}
}
