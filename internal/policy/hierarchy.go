package policy

import "fmt"

// Rank is one role of an ordered sector hierarchy.
type Rank struct {
	Key  string `json:"key" yaml:"key"`   // stable name used by thresholds, e.g. "PRESIDENCIA"
	ID   string `json:"id" yaml:"id"`     // platform role id
	Name string `json:"name" yaml:"name"` // display name
}

// Hierarchy lists ranks from highest to lowest.
type Hierarchy []Rank

// AtOrAbove returns the role IDs of the rank named key and every rank
// above it.
func (h Hierarchy) AtOrAbove(key string) ([]string, error) {
	for i, r := range h {
		if r.Key == key {
			ids := make([]string, 0, i+1)
			for _, above := range h[:i+1] {
				ids = append(ids, above.ID)
			}
			return ids, nil
		}
	}
	return nil, fmt.Errorf("policy: rank %q not in hierarchy", key)
}

// Categories resolves threshold rank keys into category role lists.
func (h Hierarchy) Categories(thresholds map[Category]string) (map[Category][]string, error) {
	out := make(map[Category][]string, len(thresholds))
	for cat, key := range thresholds {
		ids, err := h.AtOrAbove(key)
		if err != nil {
			return nil, fmt.Errorf("policy: category %s: %w", cat, err)
		}
		out[cat] = ids
	}
	return out, nil
}

// Highest returns the highest rank held in roleSet.
func (h Hierarchy) Highest(roleSet []string) (Rank, bool) {
	held := make(map[string]struct{}, len(roleSet))
	for _, id := range roleSet {
		held[id] = struct{}{}
	}
	for _, r := range h {
		if _, ok := held[r.ID]; ok {
			return r, true
		}
	}
	return Rank{}, false
}
