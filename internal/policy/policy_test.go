package policy

import (
	"errors"
	"testing"
)

var testHierarchy = Hierarchy{
	{Key: "PRESIDENCIA", ID: "R-pres", Name: "Presidência"},
	{Key: "DIRETORIA", ID: "R-dir", Name: "Diretoria"},
	{Key: "INICIAL", ID: "R-ini", Name: "Inicial"},
	{Key: "ESTAGIO", ID: "R-est", Name: "Estágio"},
}

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	table, err := NewTable(
		Rule{Workflow: "notes", Action: "Request", Category: Initiate},
		Rule{Workflow: "notes", Action: "Approve", Category: Leadership},
		Rule{Workflow: "notes", Action: "Reject", Category: Leadership},
	)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	cats, err := testHierarchy.Categories(map[Category]string{
		Initiate:   "INICIAL",
		Leadership: "PRESIDENCIA",
	})
	if err != nil {
		t.Fatalf("Categories: %v", err)
	}
	e, err := NewEvaluator(table, cats)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

func TestCheck(t *testing.T) {
	e := newTestEvaluator(t)
	tests := []struct {
		name  string
		key   Key
		roles []string
		want  error
	}{
		{"initiate may request", Key{"notes", "Request"}, []string{"R-ini"}, nil},
		{"leadership may request", Key{"notes", "Request"}, []string{"R-pres"}, nil},
		{"below initiate denied", Key{"notes", "Request"}, []string{"R-est"}, ErrDenied},
		{"no roles denied", Key{"notes", "Request"}, nil, ErrDenied},
		{"director cannot approve", Key{"notes", "Approve"}, []string{"R-dir", "R-ini"}, ErrDenied},
		{"president approves", Key{"notes", "Approve"}, []string{"other", "R-pres"}, nil},
		{"president rejects", Key{"notes", "Reject"}, []string{"R-pres"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Check(tt.key, tt.roles)
			if !errors.Is(err, tt.want) {
				t.Errorf("Check = %v, want %v", err, tt.want)
			}
			if e.IsAuthorized(tt.key, tt.roles) != (tt.want == nil) {
				t.Errorf("IsAuthorized disagrees with Check")
			}
		})
	}
}

func TestCheck_UnknownActionFailsClosed(t *testing.T) {
	e := newTestEvaluator(t)
	key := Key{Workflow: "notes", Action: "Delete"}
	err := e.Check(key, []string{"R-pres", "R-dir", "R-ini"})
	var uae *UnknownActionError
	if !errors.As(err, &uae) {
		t.Fatalf("err = %v, want UnknownActionError", err)
	}
	if uae.Key != key {
		t.Errorf("key = %v", uae.Key)
	}
	if e.IsAuthorized(key, []string{"R-pres"}) {
		t.Error("unknown action must not be authorized")
	}
}

func TestNewTable_Overrides(t *testing.T) {
	table, err := NewTable(
		Rule{Workflow: "tickets", Action: "End", Category: Leadership},
		Rule{Workflow: "tickets", Action: "End", Category: Initiate},
	)
	if err != nil {
		t.Fatal(err)
	}
	if table[Key{"tickets", "End"}] != Initiate {
		t.Errorf("later rule should win, got %q", table[Key{"tickets", "End"}])
	}
	if _, err := NewTable(Rule{Workflow: "tickets", Action: "End"}); err == nil {
		t.Error("expected error for rule without category")
	}
}

func TestNewEvaluator_EmptyCategory(t *testing.T) {
	table, _ := NewTable(Rule{Workflow: "notes", Action: "Approve", Category: Leadership})
	_, err := NewEvaluator(table, map[Category][]string{Initiate: {"R-ini"}})
	if err == nil {
		t.Fatal("expected error for category without roles")
	}
}

func TestHierarchy(t *testing.T) {
	ids, err := testHierarchy.AtOrAbove("DIRETORIA")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "R-pres" || ids[1] != "R-dir" {
		t.Errorf("AtOrAbove = %v", ids)
	}
	if _, err := testHierarchy.AtOrAbove("MISSING"); err == nil {
		t.Error("expected error for unknown rank")
	}

	r, ok := testHierarchy.Highest([]string{"x", "R-est", "R-dir"})
	if !ok || r.Key != "DIRETORIA" {
		t.Errorf("Highest = %+v, %v", r, ok)
	}
	if _, ok := testHierarchy.Highest([]string{"x"}); ok {
		t.Error("expected no rank")
	}
}
