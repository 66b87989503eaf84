package mutate

import (
	"canvas-sync/internal/model"
	"canvas-sync/internal/undo"
)

type Op string

const (
	OpUpdated Op = "updated"
	OpAdded   Op = "added"
	OpRemoved Op = "removed"
)

// Change is one record-level effect of a mutation, in the order it was applied.
// Updated carries a Patch; Added carries the full Node; Removed carries only ID.
// An Updated change on model.RootID means the root archive list changed.
type Change struct {
	Op    Op
	ID    string
	Patch model.Patch
	Node  *model.Node
}

// Result is shared by every mutation. Changed is false for no-ops, in which
// case Changes is empty and Undo is nil.
type Result struct {
	Changed bool
	Changes []Change
	// Undo is the history entry for structural operations that support undo.
	Undo         undo.Entry
	EventPayload map[string]any
}

func (r *Result) updated(id string, p model.Patch) {
	r.Changed = true
	r.Changes = append(r.Changes, Change{Op: OpUpdated, ID: id, Patch: p})
}

func (r *Result) added(n model.Node) {
	r.Changed = true
	cp := n.Clone()
	r.Changes = append(r.Changes, Change{Op: OpAdded, ID: n.ID, Node: &cp})
}

func (r *Result) removed(id string) {
	r.Changed = true
	r.Changes = append(r.Changes, Change{Op: OpRemoved, ID: id})
}
