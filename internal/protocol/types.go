// Package protocol defines the JSON messages exchanged between the server and
// its clients over the duplex channel.
package protocol

import (
	"canvas-sync/internal/model"
	"canvas-sync/internal/undo"
)

type Type string

// Client -> server mutations.
const (
	TypeNodeMove            Type = "node-move"
	TypeNodeBatchMove       Type = "node-batch-move"
	TypeNodeRename          Type = "node-rename"
	TypeNodeSetColor        Type = "node-set-color"
	TypeNodeArchive         Type = "node-archive"
	TypeNodeUnarchive       Type = "node-unarchive"
	TypeNodeArchiveDelete   Type = "node-archive-delete"
	TypeNodeBringToFront    Type = "node-bring-to-front"
	TypeNodeReparent        Type = "node-reparent"
	TypeNodeCreate          Type = "node-create"
	TypeUndoBufferPush      Type = "undo-buffer-push"
	TypeUndoBufferSetCursor Type = "undo-buffer-set-cursor"
)

// Queries and their replies.
const (
	TypeNodeSyncRequest   Type = "node-sync-request"
	TypeNodeSyncResponse  Type = "node-sync-response"
	TypeValidateDirectory Type = "validate-directory"
	TypeValidateFile      Type = "validate-file"
	TypeValidateResult    Type = "validate-result"
)

// Server -> client push events.
const (
	TypeNodeUpdated Type = "node-updated"
	TypeNodeAdded   Type = "node-added"
	TypeNodeRemoved Type = "node-removed"
)

// IsMutation reports whether t changes server state.
func (t Type) IsMutation() bool {
	switch t {
	case TypeNodeMove, TypeNodeBatchMove, TypeNodeRename, TypeNodeSetColor,
		TypeNodeArchive, TypeNodeUnarchive, TypeNodeArchiveDelete,
		TypeNodeBringToFront, TypeNodeReparent, TypeNodeCreate,
		TypeUndoBufferPush, TypeUndoBufferSetCursor:
		return true
	}
	return false
}

type MoveTarget struct {
	ID string  `json:"id" validate:"required"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type NodeMove struct {
	ID string  `json:"id" validate:"required"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type NodeBatchMove struct {
	Moves []MoveTarget `json:"moves" validate:"required,min=1,dive"`
}

type NodeRename struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"max=256"`
}

type NodeSetColor struct {
	ID            string `json:"id" validate:"required"`
	ColorPresetID string `json:"colorPresetId" validate:"colorpreset"`
}

type NodeArchive struct {
	ID string `json:"id" validate:"required,ne=root"`
}

type NodeUnarchive struct {
	ParentID   string `json:"parentId" validate:"required"`
	ArchivedID string `json:"archivedId" validate:"required"`
}

type NodeArchiveDelete struct {
	ParentID   string `json:"parentId" validate:"required"`
	ArchivedID string `json:"archivedId" validate:"required"`
}

type NodeBringToFront struct {
	ID string `json:"id" validate:"required"`
}

type NodeReparent struct {
	ID          string `json:"id" validate:"required,ne=root"`
	NewParentID string `json:"newParentId" validate:"required"`
}

// NodeCreate carries a full record; the server ignores its id and zIndex and
// assigns fresh ones.
type NodeCreate struct {
	Node model.Node `json:"node"`
}

type UndoBufferPush struct {
	Entry undo.Record `json:"entry"`
}

type UndoBufferSetCursor struct {
	Cursor int `json:"cursor" validate:"gte=0"`
}

type NodeSyncRequest struct{}

type NodeSyncResponse struct {
	State model.ServerState `json:"state"`
	Undo  undo.Snapshot     `json:"undo"`
}

type NodeUpdated struct {
	ID    string      `json:"id" validate:"required"`
	Patch model.Patch `json:"patch"`
}

type NodeAdded struct {
	Node model.Node `json:"node"`
}

type NodeRemoved struct {
	ID string `json:"id" validate:"required"`
}

type ValidatePath struct {
	Path string `json:"path" validate:"required"`
}

type ValidateResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}
