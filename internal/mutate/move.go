package mutate

import (
	"strings"

	"canvas-sync/internal/model"
	"canvas-sync/internal/store"
	"canvas-sync/internal/undo"
)

// Target is a requested absolute position for one node.
type Target struct {
	ID string  `json:"id" validate:"required"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Move sets one node's position.
func Move(t *store.Tree, id string, x, y float64) (Result, error) {
	return BatchMove(t, []Target{{ID: id, X: x, Y: y}})
}

// BatchMove sets several positions as one undoable step. Every id is checked
// before any node is moved.
func BatchMove(t *store.Tree, targets []Target) (Result, error) {
	if t == nil || len(targets) == 0 {
		return Result{}, nil
	}
	before := make([]model.Node, len(targets))
	for i, tg := range targets {
		n, err := lookup(t, strings.TrimSpace(tg.ID))
		if err != nil {
			return Result{}, err
		}
		before[i] = n
	}

	var res Result
	entry := undo.Move{}
	for i, tg := range targets {
		n := before[i]
		if n.X == tg.X && n.Y == tg.Y {
			continue
		}
		setFields(t, &res, n.ID, model.PositionPatch(tg.X, tg.Y))
		entry.Moves = append(entry.Moves, undo.NodeMove{
			ID:     n.ID,
			Before: n.Position(),
			After:  model.Position{X: tg.X, Y: tg.Y},
		})
	}
	if len(entry.Moves) > 0 {
		res.Undo = entry
		res.EventPayload = map[string]any{"count": len(entry.Moves)}
	}
	return res, nil
}

// MoveSubtree moves id to (x, y) and shifts every descendant by the same
// delta, as one batch.
func MoveSubtree(t *store.Tree, id string, x, y float64) (Result, error) {
	n, err := lookup(t, strings.TrimSpace(id))
	if err != nil {
		return Result{}, err
	}
	dx, dy := x-n.X, y-n.Y
	targets := []Target{{ID: n.ID, X: x, Y: y}}
	for _, d := range DescendantIDs(t, n.ID) {
		dn, ok := t.Get(d)
		if !ok {
			continue
		}
		targets = append(targets, Target{ID: d, X: dn.X + dx, Y: dn.Y + dy})
	}
	return BatchMove(t, targets)
}

// ApplyMoveEntry replays a recorded move: parents first (skipping any that
// would create a cycle or whose node has vanished), then positions.
func ApplyMoveEntry(t *store.Tree, m undo.Move) Result {
	var res Result
	var targets []Target
	for _, nm := range m.Moves {
		if !t.Has(nm.ID) {
			continue
		}
		if nm.AfterParentID != "" {
			r, err := Reparent(t, nm.ID, nm.AfterParentID)
			if err == nil {
				res.Changes = append(res.Changes, r.Changes...)
				res.Changed = res.Changed || r.Changed
			}
		}
		targets = append(targets, Target{ID: nm.ID, X: nm.After.X, Y: nm.After.Y})
	}
	r, err := BatchMove(t, targets)
	if err == nil {
		res.Changes = append(res.Changes, r.Changes...)
		res.Changed = res.Changed || r.Changed
	}
	return res
}
