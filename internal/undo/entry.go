package undo

import (
	"encoding/json"
	"fmt"

	"canvas-sync/internal/model"
)

type Kind string

const (
	KindMove      Kind = "move"
	KindArchive   Kind = "archive"
	KindUnarchive Kind = "unarchive"
)

// Entry is one invertible structural mutation. Each variant carries enough
// data to build its own inverse without consulting the live tree.
type Entry interface {
	Kind() Kind
	isEntry()
}

// NodeMove records one node's position (and optionally parent) before and after.
type NodeMove struct {
	ID             string         `json:"id"`
	Before         model.Position `json:"before"`
	After          model.Position `json:"after"`
	BeforeParentID string         `json:"beforeParentId,omitempty"`
	AfterParentID  string         `json:"afterParentId,omitempty"`
}

type Move struct {
	Moves []NodeMove `json:"moves"`
}

// Archive records that NodeID was archived under ParentID and which of its
// children were promoted to ParentID as a side effect.
type Archive struct {
	NodeID             string   `json:"nodeId"`
	ParentID           string   `json:"parentId"`
	ReparentedChildIDs []string `json:"reparentedChildIds,omitempty"`
}

// Unarchive records that NodeID was restored under ParentID. RestoreChildIDs
// is set when this entry undoes an archive: those nodes go back under NodeID.
type Unarchive struct {
	NodeID          string   `json:"nodeId"`
	ParentID        string   `json:"parentId"`
	RestoreChildIDs []string `json:"restoreChildIds,omitempty"`
}

func (Move) Kind() Kind      { return KindMove }
func (Archive) Kind() Kind   { return KindArchive }
func (Unarchive) Kind() Kind { return KindUnarchive }

func (Move) isEntry()      {}
func (Archive) isEntry()   {}
func (Unarchive) isEntry() {}

// Invert returns the entry that undoes e.
func Invert(e Entry) Entry {
	switch v := e.(type) {
	case Move:
		out := Move{Moves: make([]NodeMove, len(v.Moves))}
		for i, m := range v.Moves {
			out.Moves[i] = NodeMove{
				ID:             m.ID,
				Before:         m.After,
				After:          m.Before,
				BeforeParentID: m.AfterParentID,
				AfterParentID:  m.BeforeParentID,
			}
		}
		return out
	case Archive:
		return Unarchive{NodeID: v.NodeID, ParentID: v.ParentID, RestoreChildIDs: append([]string(nil), v.ReparentedChildIDs...)}
	case Unarchive:
		return Archive{NodeID: v.NodeID, ParentID: v.ParentID, ReparentedChildIDs: append([]string(nil), v.RestoreChildIDs...)}
	default:
		panic(fmt.Sprintf("undo: unhandled entry %T", e))
	}
}

// Record wraps an Entry for JSON, writing the variant fields next to a
// "kind" discriminant.
type Record struct {
	Entry Entry
}

func (r Record) MarshalJSON() ([]byte, error) {
	switch v := r.Entry.(type) {
	case Move:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			Move
		}{KindMove, v})
	case Archive:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			Archive
		}{KindArchive, v})
	case Unarchive:
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			Unarchive
		}{KindUnarchive, v})
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("undo: unhandled entry %T", r.Entry)
	}
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	switch head.Kind {
	case KindMove:
		var v Move
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		r.Entry = v
	case KindArchive:
		var v Archive
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		r.Entry = v
	case KindUnarchive:
		var v Unarchive
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		r.Entry = v
	default:
		return fmt.Errorf("undo: unknown entry kind %q", head.Kind)
	}
	return nil
}
