package mutate

import (
	"strings"

	"canvas-sync/internal/model"
	"canvas-sync/internal/store"
)

// DescendantIDs returns every live node below id, breadth first. id itself is
// not included.
func DescendantIDs(t *store.Tree, id string) []string {
	id = strings.TrimSpace(id)
	if t == nil || id == "" {
		return nil
	}
	out := []string{}
	seen := map[string]bool{id: true}
	queue := t.ChildrenOf(id)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		queue = append(queue, t.ChildrenOf(cur)...)
	}
	return out
}

// IsDescendant reports whether candidate sits below ancestorID, by walking
// candidate's parent chain upward. The walk is bounded by the tree size, so a
// corrupt chain terminates.
func IsDescendant(t *store.Tree, candidate, ancestorID string) bool {
	if t == nil || candidate == "" || ancestorID == "" {
		return false
	}
	cur := candidate
	for steps := 0; steps <= t.Len(); steps++ {
		parent, ok := t.ParentOf(cur)
		if !ok {
			return false
		}
		if parent == ancestorID {
			return true
		}
		if parent == model.RootID {
			return false
		}
		cur = parent
	}
	return false
}

// CheckAcyclic verifies that every live node reaches the root within
// Len() parent steps and that every parent it passes exists.
func CheckAcyclic(t *store.Tree) error {
	if t == nil {
		return nil
	}
	for _, id := range t.IDs() {
		cur := id
		reached := false
		for steps := 0; steps <= t.Len(); steps++ {
			parent, ok := t.ParentOf(cur)
			if !ok {
				return NotFoundError{Kind: "parent", ID: cur}
			}
			if parent == model.RootID {
				reached = true
				break
			}
			cur = parent
		}
		if !reached {
			return CycleError{NodeID: id}
		}
	}
	return nil
}

func setFields(t *store.Tree, r *Result, id string, p model.Patch) {
	if p.IsEmpty() {
		return
	}
	if t.ApplyFieldUpdate(id, p) {
		r.updated(id, p)
	}
}

func lookup(t *store.Tree, id string) (model.Node, error) {
	if id == model.RootID {
		return model.Node{}, ErrRootNode
	}
	n, ok := t.Get(id)
	if !ok {
		return model.Node{}, NotFoundError{Kind: "node", ID: id}
	}
	return n, nil
}

func parentExists(t *store.Tree, id string) bool {
	return id == model.RootID || t.Has(id)
}
