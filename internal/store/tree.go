package store

import (
	"sort"
	"strings"

	"canvas-sync/internal/model"
)

// Tree is the canonical tree store: a passive cache of the server's truth.
// It performs no validation; senders are responsible for that.
//
// Tree is not safe for concurrent use.
type Tree struct {
	version      int
	nextZIndex   int
	nodes        map[string]*model.Node
	rootArchived []model.ArchivedNode

	// Derived parent -> children index, rebuilt on demand. Not persisted.
	idxBuilt    bool
	idxChildren map[string][]string
}

func NewTree() *Tree {
	t := &Tree{}
	t.Replace(model.NewServerState())
	return t
}

// NewTreeFrom returns a tree holding a deep copy of st.
func NewTreeFrom(st model.ServerState) *Tree {
	t := &Tree{}
	t.Replace(st)
	return t
}

// Replace atomically swaps in a full state. Used on (re)connect and load.
func (t *Tree) Replace(st model.ServerState) {
	t.version = st.Version
	t.nextZIndex = st.NextZIndex
	if t.nextZIndex <= 0 {
		t.nextZIndex = 1
	}
	t.nodes = make(map[string]*model.Node, len(st.Nodes))
	for id, n := range st.Nodes {
		cp := n.Clone()
		if strings.TrimSpace(cp.ID) == "" {
			cp.ID = id
		}
		t.nodes[id] = &cp
	}
	t.rootArchived = model.CloneArchived(st.RootArchivedChildren)
	t.invalidate()
}

// Snapshot returns a deep copy of the whole state.
func (t *Tree) Snapshot() model.ServerState {
	st := model.ServerState{
		Version:              t.version,
		NextZIndex:           t.nextZIndex,
		Nodes:                make(map[string]model.Node, len(t.nodes)),
		RootArchivedChildren: model.CloneArchived(t.rootArchived),
	}
	for id, n := range t.nodes {
		st.Nodes[id] = n.Clone()
	}
	if st.RootArchivedChildren == nil {
		st.RootArchivedChildren = []model.ArchivedNode{}
	}
	return st
}

func (t *Tree) Version() int { return t.version }

func (t *Tree) BumpVersion() int {
	t.version++
	return t.version
}

// TakeZIndex returns the next free z-index and advances the counter.
func (t *Tree) TakeZIndex() int {
	z := t.nextZIndex
	t.nextZIndex++
	return z
}

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Has(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

// Get returns a copy of the live node.
func (t *Tree) Get(id string) (model.Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return model.Node{}, false
	}
	return n.Clone(), true
}

func (t *Tree) ParentOf(id string) (string, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return "", false
	}
	return n.ParentID, true
}

// IDs returns live node ids in sorted order.
func (t *Tree) IDs() []string {
	out := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ApplyFieldUpdate shallow-merges p into the record. Unknown ids are a no-op:
// the node may not have been created on this side yet. The root id only
// accepts archivedChildren.
func (t *Tree) ApplyFieldUpdate(id string, p model.Patch) bool {
	if id == model.RootID {
		if p.ArchivedChildren == nil {
			return false
		}
		t.rootArchived = model.CloneArchived(*p.ArchivedChildren)
		return true
	}
	n, ok := t.nodes[id]
	if !ok {
		return false
	}
	// The children index is keyed by parent and ordered by zIndex.
	if (p.ParentID != nil && *p.ParentID != n.ParentID) || (p.ZIndex != nil && *p.ZIndex != n.ZIndex) {
		t.invalidate()
	}
	p.Apply(n)
	return true
}

// Add inserts or replaces a record.
func (t *Tree) Add(n model.Node) {
	cp := n.Clone()
	t.nodes[cp.ID] = &cp
	if cp.ZIndex >= t.nextZIndex {
		t.nextZIndex = cp.ZIndex + 1
	}
	t.invalidate()
}

func (t *Tree) Remove(id string) bool {
	if _, ok := t.nodes[id]; !ok {
		return false
	}
	delete(t.nodes, id)
	t.invalidate()
	return true
}

// ChildrenOf returns the ids of live nodes whose parent is id, sorted by
// z-index then id.
func (t *Tree) ChildrenOf(id string) []string {
	t.ensureIndex()
	xs := t.idxChildren[id]
	out := make([]string, len(xs))
	copy(out, xs)
	return out
}

// ArchivedChildrenOf returns a copy of the archived list held by parentID
// (the root list for model.RootID). ok is false when the parent is unknown.
func (t *Tree) ArchivedChildrenOf(parentID string) ([]model.ArchivedNode, bool) {
	if parentID == model.RootID {
		return model.CloneArchived(t.rootArchived), true
	}
	n, ok := t.nodes[parentID]
	if !ok {
		return nil, false
	}
	return model.CloneArchived(n.ArchivedChildren), true
}

func (t *Tree) SetArchivedChildren(parentID string, xs []model.ArchivedNode) bool {
	return t.ApplyFieldUpdate(parentID, model.ArchivedChildrenPatch(xs))
}

func (t *Tree) invalidate() {
	t.idxBuilt = false
	t.idxChildren = nil
}

func (t *Tree) ensureIndex() {
	if t.idxBuilt {
		return
	}
	idx := map[string][]string{}
	for id, n := range t.nodes {
		idx[n.ParentID] = append(idx[n.ParentID], id)
	}
	for parent, xs := range idx {
		sort.Slice(xs, func(i, j int) bool {
			a, b := t.nodes[xs[i]], t.nodes[xs[j]]
			if a.ZIndex != b.ZIndex {
				return a.ZIndex < b.ZIndex
			}
			return a.ID < b.ID
		})
		idx[parent] = xs
	}
	t.idxChildren = idx
	t.idxBuilt = true
}
