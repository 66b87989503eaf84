package mutate

import (
	"fmt"
	"strings"
	"time"

	"canvas-sync/internal/model"
	"canvas-sync/internal/store"
	"canvas-sync/internal/undo"
)

type ArchiveResult struct {
	Result
	ParentID    string
	PromotedIDs []string
	Snapshot    model.ArchivedNode
}

// Archive detaches id into its parent's archivedChildren. Direct children are
// promoted to the archived node's parent first, so nothing is orphaned. The
// snapshot keeps the node's own archivedChildren by value.
func Archive(t *store.Tree, id string, now time.Time) (ArchiveResult, error) {
	id = strings.TrimSpace(id)
	if t == nil || id == "" {
		return ArchiveResult{}, nil
	}
	n, err := lookup(t, id)
	if err != nil {
		return ArchiveResult{}, err
	}
	parentID := n.ParentID
	archived, ok := t.ArchivedChildrenOf(parentID)
	if !ok {
		return ArchiveResult{}, NotFoundError{Kind: "parent", ID: parentID}
	}

	res := ArchiveResult{ParentID: parentID}
	res.PromotedIDs = t.ChildrenOf(id)
	for _, childID := range res.PromotedIDs {
		setFields(t, &res.Result, childID, model.ParentPatch(parentID))
	}

	t.Remove(id)
	res.removed(id)

	res.Snapshot = model.ArchivedNode{ArchivedAt: now.UTC(), Data: n}
	archived = append(archived, res.Snapshot)
	setFields(t, &res.Result, parentID, model.ArchivedChildrenPatch(archived))

	res.Undo = undo.Archive{NodeID: id, ParentID: parentID, ReparentedChildIDs: append([]string(nil), res.PromotedIDs...)}
	res.EventPayload = map[string]any{
		"parentId": parentID,
		"promoted": res.PromotedIDs,
	}
	return res, nil
}

type UnarchiveResult struct {
	Result
	Node model.Node
}

// Unarchive restores archivedID from parentID's archive list as a live child
// of parentID. Children promoted when it was archived stay where they are.
func Unarchive(t *store.Tree, parentID, archivedID string) (UnarchiveResult, error) {
	parentID = strings.TrimSpace(parentID)
	archivedID = strings.TrimSpace(archivedID)
	if t == nil || parentID == "" || archivedID == "" {
		return UnarchiveResult{}, nil
	}
	archived, ok := t.ArchivedChildrenOf(parentID)
	if !ok {
		return UnarchiveResult{}, NotFoundError{Kind: "parent", ID: parentID}
	}
	idx := indexArchived(archived, archivedID)
	if idx < 0 {
		return UnarchiveResult{}, fmt.Errorf("%w: %s under %s", ErrArchivedNotFound, archivedID, parentID)
	}
	if t.Has(archivedID) {
		return UnarchiveResult{}, IDInUseError{ID: archivedID}
	}

	n := archived[idx].Data
	n.ParentID = parentID
	archived = append(archived[:idx], archived[idx+1:]...)

	res := UnarchiveResult{Node: n}
	t.Add(n)
	res.added(n)
	setFields(t, &res.Result, parentID, model.ArchivedChildrenPatch(archived))

	res.Undo = undo.Unarchive{NodeID: archivedID, ParentID: parentID}
	res.EventPayload = map[string]any{"parentId": parentID}
	return res, nil
}

type DeleteArchivedResult struct {
	Result
	Deleted model.ArchivedNode
}

// DeleteArchived permanently drops an archived snapshot and everything nested in it.
func DeleteArchived(t *store.Tree, parentID, archivedID string) (DeleteArchivedResult, error) {
	parentID = strings.TrimSpace(parentID)
	archivedID = strings.TrimSpace(archivedID)
	if t == nil || parentID == "" || archivedID == "" {
		return DeleteArchivedResult{}, nil
	}
	archived, ok := t.ArchivedChildrenOf(parentID)
	if !ok {
		return DeleteArchivedResult{}, NotFoundError{Kind: "parent", ID: parentID}
	}
	idx := indexArchived(archived, archivedID)
	if idx < 0 {
		return DeleteArchivedResult{}, fmt.Errorf("%w: %s under %s", ErrArchivedNotFound, archivedID, parentID)
	}
	res := DeleteArchivedResult{Deleted: archived[idx]}
	archived = append(archived[:idx], archived[idx+1:]...)
	setFields(t, &res.Result, parentID, model.ArchivedChildrenPatch(archived))
	res.EventPayload = map[string]any{"parentId": parentID}
	return res, nil
}

func indexArchived(xs []model.ArchivedNode, id string) int {
	for i, a := range xs {
		if a.Data.ID == id {
			return i
		}
	}
	return -1
}
