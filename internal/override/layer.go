// Package override holds locally applied, not yet confirmed node edits and
// produces the merged view every reader sees.
package override

import (
	"time"

	"canvas-sync/internal/model"
	"canvas-sync/internal/store"
)

// Entry is the unconfirmed local state for one node. Suppressed is always a
// subset of Fields.Fields().
type Entry struct {
	Fields     model.Patch
	Suppressed model.Field
	CreatedAt  time.Time
}

// Layer is owned by one client session and is not safe for concurrent use.
type Layer struct {
	entries map[string]*Entry
	// Records restored locally that the server has not echoed yet.
	provisional map[string]model.Node
	// Live records archived locally that the server has not removed yet.
	hidden map[string]bool

	now func() time.Time
}

func New() *Layer {
	return &Layer{
		entries:     map[string]*Entry{},
		provisional: map[string]model.Node{},
		hidden:      map[string]bool{},
		now:         time.Now,
	}
}

// ApplyLocal merges p into id's entry and suppresses every field it sets.
func (l *Layer) ApplyLocal(id string, p model.Patch) {
	if id == "" || p.IsEmpty() {
		return
	}
	e, ok := l.entries[id]
	if !ok {
		e = &Entry{}
		l.entries[id] = e
	}
	e.Fields = e.Fields.Merge(p)
	e.Suppressed |= p.Fields()
	e.CreatedAt = l.now()
}

// Entry returns a copy of id's override entry.
func (l *Layer) Entry(id string) (Entry, bool) {
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (l *Layer) Suppressed(id string) model.Field {
	if e, ok := l.entries[id]; ok {
		return e.Suppressed
	}
	return 0
}

// Reconcile is called after the canonical store accepted incoming for id.
// Only fields that are in clear, present in incoming, and currently suppressed
// are released; every other override stays visible. It returns the released
// fields.
func (l *Layer) Reconcile(id string, incoming model.Patch, clear model.Field) model.Field {
	e, ok := l.entries[id]
	if !ok {
		return 0
	}
	release := clear & incoming.Fields() & e.Suppressed
	if release == 0 {
		return 0
	}
	e.Fields = e.Fields.Without(release)
	e.Suppressed &^= release
	// Keep Suppressed a subset of the remaining fields.
	e.Suppressed &= e.Fields.Fields()
	if e.Fields.IsEmpty() {
		delete(l.entries, id)
	}
	return release
}

// Hide marks a record as locally removed. A provisional record is withdrawn
// and also tombstoned, so the server's echo of the earlier unarchive cannot
// bring it back before the archive itself is echoed.
func (l *Layer) Hide(id string) {
	if _, ok := l.provisional[id]; ok {
		delete(l.provisional, id)
		delete(l.entries, id)
	}
	l.hidden[id] = true
}

func (l *Layer) Unhide(id string) { delete(l.hidden, id) }

func (l *Layer) Hidden(id string) bool { return l.hidden[id] }

// Provision shows n before the server has added it.
func (l *Layer) Provision(n model.Node) {
	delete(l.hidden, n.ID)
	l.provisional[n.ID] = n.Clone()
}

func (l *Layer) Unprovision(id string) { delete(l.provisional, id) }

func (l *Layer) Provisional(id string) bool {
	_, ok := l.provisional[id]
	return ok
}

// Drop forgets everything held for id.
func (l *Layer) Drop(id string) {
	delete(l.entries, id)
	delete(l.provisional, id)
	delete(l.hidden, id)
}

// Clear discards every override. A full resync always wins.
func (l *Layer) Clear() {
	l.entries = map[string]*Entry{}
	l.provisional = map[string]model.Node{}
	l.hidden = map[string]bool{}
}

// Len reports how many nodes carry unconfirmed state of any kind.
func (l *Layer) Len() int {
	ids := map[string]bool{}
	for id := range l.entries {
		ids[id] = true
	}
	for id := range l.provisional {
		ids[id] = true
	}
	for id := range l.hidden {
		ids[id] = true
	}
	return len(ids)
}

// MergeView overlays every override on the canonical tree and returns the
// merged state. Hidden records are left out and provisional ones added.
func (l *Layer) MergeView(t *store.Tree) model.ServerState {
	st := t.Snapshot()
	for id := range l.hidden {
		delete(st.Nodes, id)
	}
	for id, n := range l.provisional {
		if _, live := st.Nodes[id]; !live {
			st.Nodes[id] = n.Clone()
		}
	}
	for id, e := range l.entries {
		if id == model.RootID {
			if e.Fields.ArchivedChildren != nil {
				st.RootArchivedChildren = model.CloneArchived(*e.Fields.ArchivedChildren)
			}
			continue
		}
		n, ok := st.Nodes[id]
		if !ok {
			continue
		}
		e.Fields.Apply(&n)
		st.Nodes[id] = n
	}
	for _, n := range st.Nodes {
		if n.ZIndex >= st.NextZIndex {
			st.NextZIndex = n.ZIndex + 1
		}
	}
	return st
}

// View returns the merged record for one id.
func (l *Layer) View(t *store.Tree, id string) (model.Node, bool) {
	if l.hidden[id] {
		return model.Node{}, false
	}
	n, ok := t.Get(id)
	if !ok {
		p, prov := l.provisional[id]
		if !prov {
			return model.Node{}, false
		}
		n = p.Clone()
	}
	if e, ok := l.entries[id]; ok {
		e.Fields.Apply(&n)
	}
	return n, true
}
