// Package policy decides whether an actor may perform a workflow action.
//
// The policy is a static table mapping (workflow, action) to a role
// category. A category resolves to a list of role IDs; an actor is
// authorized when its role set intersects that list. Evaluation fails
// closed: keys missing from the table are denied and reported as
// *UnknownActionError so the gap surfaces as a bug rather than a silent
// allow.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Category names a group of roles.
type Category string

const (
	// Initiate roles may start workflows (request a note, open a ticket).
	Initiate Category = "initiate"
	// Leadership roles may decide (approve, reject, close).
	Leadership Category = "leadership"
)

// Key identifies one action of one workflow.
type Key struct {
	Workflow string
	Action   string
}

func (k Key) String() string { return k.Workflow + "/" + k.Action }

// Rule is one table row, in the shape used by configuration.
type Rule struct {
	Workflow string   `json:"workflow" yaml:"workflow"`
	Action   string   `json:"action" yaml:"action"`
	Category Category `json:"category" yaml:"category"`
}

// Table maps actions to the category allowed to perform them.
type Table map[Key]Category

// NewTable builds a table from rules. Later rules override earlier ones,
// so configuration overrides can be appended to workflow defaults.
func NewTable(rules ...Rule) (Table, error) {
	t := make(Table, len(rules))
	for _, r := range rules {
		if r.Workflow == "" || r.Action == "" || r.Category == "" {
			return nil, fmt.Errorf("policy: incomplete rule %+v", r)
		}
		t[Key{Workflow: r.Workflow, Action: r.Action}] = r.Category
	}
	return t, nil
}

// ErrDenied means the actor holds none of the required roles.
var ErrDenied = errors.New("policy: denied")

// UnknownActionError is returned for keys absent from the table.
type UnknownActionError struct {
	Key Key
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("policy: no rule for action %s", e.Key)
}

// Evaluator checks actions against a table and resolved categories.
// It is immutable after construction and safe for concurrent use.
type Evaluator struct {
	table      Table
	categories map[Category]map[string]struct{}
}

// NewEvaluator resolves every category used by table against categories.
// A category with no roles is an error: it could never authorize anyone.
func NewEvaluator(table Table, categories map[Category][]string) (*Evaluator, error) {
	e := &Evaluator{
		table:      make(Table, len(table)),
		categories: make(map[Category]map[string]struct{}, len(categories)),
	}
	for cat, roles := range categories {
		set := make(map[string]struct{}, len(roles))
		for _, id := range roles {
			if id != "" {
				set[id] = struct{}{}
			}
		}
		e.categories[cat] = set
	}
	var missing []string
	for k, cat := range table {
		if len(e.categories[cat]) == 0 {
			missing = append(missing, fmt.Sprintf("%s (%s)", cat, k))
		}
		e.table[k] = cat
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("policy: categories without roles: %s", strings.Join(missing, ", "))
	}
	return e, nil
}

// Required returns the category gating key.
func (e *Evaluator) Required(key Key) (Category, bool) {
	cat, ok := e.table[key]
	return cat, ok
}

// Check returns nil when roleSet grants key, ErrDenied when it does not,
// and *UnknownActionError when key has no rule.
func (e *Evaluator) Check(key Key, roleSet []string) error {
	cat, ok := e.table[key]
	if !ok {
		return &UnknownActionError{Key: key}
	}
	allowed := e.categories[cat]
	for _, id := range roleSet {
		if _, ok := allowed[id]; ok {
			return nil
		}
	}
	return ErrDenied
}

// IsAuthorized is Check reduced to a boolean; unknown keys are false.
func (e *Evaluator) IsAuthorized(key Key, roleSet []string) bool {
	return e.Check(key, roleSet) == nil
}
