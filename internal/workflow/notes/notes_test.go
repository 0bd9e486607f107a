package notes_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/h1v3-io/lcst/internal/policy"
	"github.com/h1v3-io/lcst/internal/workflow"
	"github.com/h1v3-io/lcst/internal/workflow/notes"
	"github.com/h1v3-io/lcst/internal/workflow/workflowtest"
	"github.com/h1v3-io/lcst/pkg/protocol"
)

var sectors = policy.Hierarchy{
	{Key: "PRESIDENCIA", ID: "R-pres", Name: "Presidência"},
	{Key: "DIRETORIA", ID: "R-dir", Name: "Diretoria"},
	{Key: "INICIAL", ID: "R-ini", Name: "Inicial"},
}

var (
	requester = protocol.Actor{ID: "U1", Tag: "alice", AvatarURL: "https://cdn/alice.png"}
	target    = protocol.Actor{ID: "U2", Tag: "bob", DisplayName: "Bob Builder"}
	president = protocol.Actor{ID: "U3", Tag: "carol"}
)

type harness struct {
	channels  *workflowtest.Channels
	collector *workflowtest.Collector
	resolver  *workflowtest.Resolver
	replier   *workflowtest.Replier
	roles     *workflowtest.Roles
	machine   *notes.Machine
	dispatch  *workflow.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	table, err := policy.NewTable(notes.Rules()...)
	if err != nil {
		t.Fatal(err)
	}
	cats, err := sectors.Categories(map[policy.Category]string{
		policy.Initiate:   "INICIAL",
		policy.Leadership: "PRESIDENCIA",
	})
	if err != nil {
		t.Fatal(err)
	}
	eval, err := policy.NewEvaluator(table, cats)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		channels: workflowtest.NewChannels(),
		collector: &workflowtest.Collector{Values: workflow.Values{
			notes.FieldTarget:  "bob",
			notes.FieldContent: "Organizou o evento de sábado",
		}},
		resolver: &workflowtest.Resolver{Identities: map[string]*workflow.Identity{
			"bob": {Actor: target, Profile: &workflow.Profile{Name: "Bob", AvatarURL: "https://habbo/bob.png"}},
		}},
		replier: &workflowtest.Replier{},
		roles: &workflowtest.Roles{Sets: map[string][]string{
			"U1": {"R-ini"},
			"U2": {"R-ini", "R-dir"},
			"U3": {"R-pres"},
		}},
	}
	h.channels.AddChannel(protocol.Channel{ID: "C-review", Kind: protocol.ChannelText})
	h.channels.AddChannel(protocol.Channel{ID: "C-record", Kind: protocol.ChannelText})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.machine = notes.New(notes.Config{
		ReviewChannelID: "C-review",
		RecordChannelID: "C-record",
		ReviewRoleID:    "R-review",
		Sectors:         sectors,
	}, notes.Deps{
		Gate:       workflow.NewGate(eval, h.roles),
		Collector:  h.collector,
		Identities: h.resolver,
		Channels:   h.channels,
		Replier:    h.replier,
		Roles:      h.roles,
	}, logger)
	h.dispatch = workflow.NewDispatcher(h.replier, logger)
	if err := h.dispatch.Register(h.machine); err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) press(t *testing.T, actor protocol.Actor, token string, msg *protocol.Message) {
	t.Helper()
	a := &workflow.Activation{
		ID:        "evt",
		Token:     token,
		Actor:     actor,
		GuildID:   "T1",
		ChannelID: "C-any",
		Message:   msg,
	}
	if !h.dispatch.Dispatch(context.Background(), a) {
		t.Fatalf("token %q not claimed", token)
	}
}

// requestNote runs a successful request and returns the approval message.
func (h *harness) requestNote(t *testing.T) *protocol.Message {
	t.Helper()
	h.press(t, requester, "LCST::NotesInteractionHandler/Request", nil)
	if len(h.channels.Sends) != 1 {
		t.Fatalf("expected 1 send, got %d", len(h.channels.Sends))
	}
	hist := h.channels.History["C-review"]
	msg := hist[len(hist)-1]
	return &msg
}

func TestRequest(t *testing.T) {
	h := newHarness(t)
	msg := h.requestNote(t)

	sent := h.channels.Sends[0]
	if sent.ChannelID != "C-review" {
		t.Errorf("posted to %q", sent.ChannelID)
	}
	if sent.Message.Content != "<@&R-review>" {
		t.Errorf("content = %q", sent.Message.Content)
	}
	e := msg.Embeds[0]
	if e.Title != "Solicitação de Anotação para @bob" {
		t.Errorf("title = %q", e.Title)
	}
	if e.Author == nil || e.Author.Name != "alice" || e.Author.IconURL != "https://cdn/alice.png" {
		t.Errorf("author = %+v", e.Author)
	}
	for name, want := range map[string]string{
		"Nome do Colaborador":  "Bob Builder",
		"Cargo do Colaborador": "Diretoria",
		"Anotação":             "Organizou o evento de sábado",
	} {
		if got, _ := e.Field(name); got != want {
			t.Errorf("field %q = %q, want %q", name, got, want)
		}
	}
	if e.ThumbnailURL != "https://habbo/bob.png" {
		t.Errorf("thumbnail = %q", e.ThumbnailURL)
	}
	if len(msg.Controls) != 2 ||
		msg.Controls[0].Token != "LCST::NotesInteractionHandler/Approve" || msg.Controls[0].Label != "Aprovar" ||
		msg.Controls[1].Token != "LCST::NotesInteractionHandler/Reject" || msg.Controls[1].Label != "Reprovar" {
		t.Errorf("controls = %+v", msg.Controls)
	}
	if got := h.replier.Last(); got != "Solicitação enviada." {
		t.Errorf("reply = %q", got)
	}
	if len(h.collector.Prompts) != 1 || h.collector.Prompts[0].Title != "Anotação" {
		t.Errorf("prompts = %+v", h.collector.Prompts)
	}
}

func TestRequest_TargetWithoutRank(t *testing.T) {
	h := newHarness(t)
	h.roles.Sets["U2"] = []string{"unrelated"}
	msg := h.requestNote(t)
	if got, _ := msg.Embeds[0].Field("Cargo do Colaborador"); got != "N/A" {
		t.Errorf("rank = %q, want N/A", got)
	}
}

func TestRequest_TargetNotFound(t *testing.T) {
	h := newHarness(t)
	h.collector.Values[notes.FieldTarget] = "nobody"
	h.press(t, requester, "LCST::NotesInteractionHandler/Request", nil)

	if h.channels.Calls() != 0 {
		t.Errorf("expected no channel calls, got %d", h.channels.Calls())
	}
	if got := h.replier.Last(); got != "Não foi possível encontrar o usuário informado." {
		t.Errorf("reply = %q", got)
	}
}

func TestRequest_Aborted(t *testing.T) {
	h := newHarness(t)
	h.collector.Err = workflow.ErrCollectionAborted
	h.press(t, requester, "LCST::NotesInteractionHandler/Request", nil)

	if h.channels.Calls() != 0 || len(h.replier.Replies) != 0 {
		t.Errorf("aborted request left traces: calls=%d replies=%v", h.channels.Calls(), h.replier.Replies)
	}
}

func TestApprove(t *testing.T) {
	h := newHarness(t)
	msg := h.requestNote(t)

	h.press(t, president, "LCST::NotesInteractionHandler/Approve", msg)

	if len(h.channels.Sends) != 2 {
		t.Fatalf("expected record post, got %d sends", len(h.channels.Sends))
	}
	record := h.channels.Sends[1]
	if record.ChannelID != "C-record" {
		t.Errorf("record posted to %q", record.ChannelID)
	}
	re := record.Message.Embeds[0]
	if re.Title != "Anotação de carol" {
		t.Errorf("record title = %q", re.Title)
	}
	if got, _ := re.Field("Autorizado Por"); got != "carol" {
		t.Errorf("Autorizado Por = %q", got)
	}
	if got, _ := re.Field("Anotação"); got != "Organizou o evento de sábado" {
		t.Errorf("note = %q", got)
	}

	if len(h.channels.Edits) != 1 {
		t.Fatalf("expected 1 edit, got %d", len(h.channels.Edits))
	}
	edit := h.channels.Edits[0]
	if edit.MessageID != msg.ID || edit.ChannelID != "C-review" {
		t.Errorf("edited %s/%s", edit.ChannelID, edit.MessageID)
	}
	if len(edit.Message.Controls) != 0 {
		t.Error("controls should be removed")
	}
	if edit.Message.Embeds[0].Title != "Solicitação Aprovada" || edit.Message.Embeds[0].Color != protocol.ColorSuccess {
		t.Errorf("edited embed = %+v", edit.Message.Embeds[0])
	}
	if _, ok := edit.Message.Embeds[0].Field("Autorizado Por"); ok {
		t.Error("approval message should not gain the record field")
	}
	if edit.Message.Content != "<@&R-review>" {
		t.Errorf("content changed to %q", edit.Message.Content)
	}
	if got := h.replier.Last(); got != "Operação concluída." {
		t.Errorf("reply = %q", got)
	}
}

func TestReject(t *testing.T) {
	h := newHarness(t)
	msg := h.requestNote(t)

	h.press(t, president, "LCST::NotesInteractionHandler/Reject", msg)

	if len(h.channels.Sends) != 1 {
		t.Errorf("reject must not post, got %d sends", len(h.channels.Sends))
	}
	if len(h.channels.Edits) != 1 {
		t.Fatalf("expected 1 edit, got %d", len(h.channels.Edits))
	}
	e := h.channels.Edits[0].Message
	if len(e.Controls) != 0 || e.Embeds[0].Title != "Solicitação Rejeitada" || e.Embeds[0].Color != protocol.ColorError {
		t.Errorf("edited = %+v", e)
	}
	if got := h.replier.Last(); got != "Rejeitada." {
		t.Errorf("reply = %q", got)
	}
}

func TestApprove_Unauthorized(t *testing.T) {
	h := newHarness(t)
	msg := h.requestNote(t)

	h.press(t, requester, "LCST::NotesInteractionHandler/Approve", msg)

	if len(h.channels.Sends) != 1 || len(h.channels.Edits) != 0 {
		t.Errorf("unauthorized approve changed state: sends=%d edits=%d", len(h.channels.Sends), len(h.channels.Edits))
	}
	if got := h.replier.Last(); got != "Você não tem permissão para realizar esta ação." {
		t.Errorf("reply = %q", got)
	}
}

func TestRequest_Unauthorized(t *testing.T) {
	h := newHarness(t)
	h.press(t, protocol.Actor{ID: "U9", Tag: "guest"}, "LCST::NotesInteractionHandler/Request", nil)
	if len(h.collector.Prompts) != 0 {
		t.Error("prompt opened for unauthorized actor")
	}
	if got := h.replier.Last(); got != "Você não tem permissão para realizar esta ação." {
		t.Errorf("reply = %q", got)
	}
}

func TestApprove_WithoutEmbed(t *testing.T) {
	h := newHarness(t)
	h.press(t, president, "LCST::NotesInteractionHandler/Approve", &protocol.Message{ID: "m-x", ChannelID: "C-review"})
	if h.channels.Calls() != 0 {
		t.Errorf("expected no channel calls, got %d", h.channels.Calls())
	}
	if got := h.replier.Last(); got != "Solicitação não encontrada." {
		t.Errorf("reply = %q", got)
	}
}

func TestPanel(t *testing.T) {
	h := newHarness(t)
	p := h.machine.Panel()
	if len(p.Controls) != 1 || p.Controls[0].Token != "LCST::NotesInteractionHandler/Request" {
		t.Errorf("panel controls = %+v", p.Controls)
	}
}
