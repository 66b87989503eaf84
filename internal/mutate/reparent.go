package mutate

import (
	"strings"

	"canvas-sync/internal/model"
	"canvas-sync/internal/store"
)

type ReparentResult struct {
	Result
	OldParentID string
}

// Reparent moves id under newParentID. It refuses, before touching the tree,
// when newParentID is id itself or one of its descendants.
func Reparent(t *store.Tree, id, newParentID string) (ReparentResult, error) {
	id = strings.TrimSpace(id)
	newParentID = strings.TrimSpace(newParentID)
	if t == nil || id == "" || newParentID == "" {
		return ReparentResult{}, nil
	}
	n, err := lookup(t, id)
	if err != nil {
		return ReparentResult{}, err
	}
	if !parentExists(t, newParentID) {
		return ReparentResult{}, NotFoundError{Kind: "parent", ID: newParentID}
	}
	if newParentID == id || IsDescendant(t, newParentID, id) {
		return ReparentResult{}, CycleError{NodeID: id, NewParentID: newParentID}
	}
	res := ReparentResult{OldParentID: n.ParentID}
	if n.ParentID == newParentID {
		return res, nil
	}
	setFields(t, &res.Result, id, model.ParentPatch(newParentID))
	res.EventPayload = map[string]any{"from": n.ParentID, "to": newParentID}
	return res, nil
}
