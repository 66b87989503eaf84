package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RootID is the parent id of top-level nodes. It never names a live record.
const RootID = "root"

// ColorInherit is the color preset sentinel meaning "use the parent's color".
const ColorInherit = "inherit"

type Kind string

const (
	KindTerminal  Kind = "terminal"
	KindMarkdown  Kind = "markdown"
	KindDirectory Kind = "directory"
	KindFile      Kind = "file"
	KindTitle     Kind = "title"
)

// Kinds lists every node variant. Switches over Payload must cover all of them.
var Kinds = []Kind{KindTerminal, KindMarkdown, KindDirectory, KindFile, KindTitle}

var ErrUnknownKind = errors.New("unknown node kind")

// Payload is the variant-specific part of a node. It is sealed: only the
// variant types in this package implement it.
type Payload interface {
	Kind() Kind
	clonePayload() Payload
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one record of the shared document tree.
type Node struct {
	ID               string
	ParentID         string
	X                float64
	Y                float64
	ZIndex           int
	Name             *string
	ColorPresetID    *string
	ArchivedChildren []ArchivedNode
	Payload          Payload
}

// ArchivedNode is a detached snapshot of a node, including its own archived subtree.
type ArchivedNode struct {
	ArchivedAt time.Time `json:"archivedAt"`
	Data       Node      `json:"data"`
}

func (n Node) Kind() Kind {
	if n.Payload == nil {
		return ""
	}
	return n.Payload.Kind()
}

func (n Node) Position() Position {
	return Position{X: n.X, Y: n.Y}
}

func (n Node) DisplayName() string {
	if n.Name != nil && *n.Name != "" {
		return *n.Name
	}
	switch p := n.Payload.(type) {
	case *Terminal:
		return p.Cwd
	case *Markdown:
		return "note"
	case *Directory:
		return p.Cwd
	case *File:
		return p.Path
	case *Title:
		return p.Text
	}
	return n.ID
}

// Clone returns a deep copy. Archived snapshots are owned values, never shared
// with the live tree.
func (n Node) Clone() Node {
	out := n
	if n.Name != nil {
		v := *n.Name
		out.Name = &v
	}
	if n.ColorPresetID != nil {
		v := *n.ColorPresetID
		out.ColorPresetID = &v
	}
	out.ArchivedChildren = CloneArchived(n.ArchivedChildren)
	if n.Payload != nil {
		out.Payload = n.Payload.clonePayload()
	}
	return out
}

func CloneArchived(xs []ArchivedNode) []ArchivedNode {
	if xs == nil {
		return nil
	}
	out := make([]ArchivedNode, len(xs))
	for i, a := range xs {
		out[i] = ArchivedNode{ArchivedAt: a.ArchivedAt, Data: a.Data.Clone()}
	}
	return out
}

// WalkArchived calls fn for every archived snapshot below xs, depth first.
func WalkArchived(xs []ArchivedNode, fn func(a ArchivedNode)) {
	for _, a := range xs {
		fn(a)
		WalkArchived(a.Data.ArchivedChildren, fn)
	}
}

type nodeBase struct {
	ID               string         `json:"id"`
	Type             Kind           `json:"type"`
	ParentID         string         `json:"parentId"`
	X                float64        `json:"x"`
	Y                float64        `json:"y"`
	ZIndex           int            `json:"zIndex"`
	Name             *string        `json:"name,omitempty"`
	ColorPresetID    *string        `json:"colorPresetId,omitempty"`
	ArchivedChildren []ArchivedNode `json:"archivedChildren"`
}

// MarshalJSON writes the base fields and the variant fields flat in one object,
// with "type" as the discriminant.
func (n Node) MarshalJSON() ([]byte, error) {
	base := nodeBase{
		ID:               n.ID,
		Type:             n.Kind(),
		ParentID:         n.ParentID,
		X:                n.X,
		Y:                n.Y,
		ZIndex:           n.ZIndex,
		Name:             n.Name,
		ColorPresetID:    n.ColorPresetID,
		ArchivedChildren: n.ArchivedChildren,
	}
	if base.ArchivedChildren == nil {
		base.ArchivedChildren = []ArchivedNode{}
	}
	b, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	if n.Payload == nil {
		return b, nil
	}
	p, err := json.Marshal(n.Payload)
	if err != nil {
		return nil, err
	}
	if len(p) <= 2 {
		return b, nil
	}
	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	buf.WriteByte(',')
	buf.Write(p[1:])
	return buf.Bytes(), nil
}

func (n *Node) UnmarshalJSON(b []byte) error {
	var base nodeBase
	if err := json.Unmarshal(b, &base); err != nil {
		return err
	}
	payload, err := newPayload(base.Type)
	if err != nil {
		return fmt.Errorf("node %s: %w", base.ID, err)
	}
	if err := json.Unmarshal(b, payload); err != nil {
		return err
	}
	*n = Node{
		ID:               base.ID,
		ParentID:         base.ParentID,
		X:                base.X,
		Y:                base.Y,
		ZIndex:           base.ZIndex,
		Name:             base.Name,
		ColorPresetID:    base.ColorPresetID,
		ArchivedChildren: base.ArchivedChildren,
		Payload:          payload,
	}
	return nil
}

func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindTerminal:
		return &Terminal{}, nil
	case KindMarkdown:
		return &Markdown{}, nil
	case KindDirectory:
		return &Directory{}, nil
	case KindFile:
		return &File{}, nil
	case KindTitle:
		return &Title{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
}

// ValidColorPreset reports whether c is a usable colorPresetId: empty (clear),
// ColorInherit, or a lowercase token of letters, digits and dashes.
func ValidColorPreset(c string) bool {
	if c == "" || c == ColorInherit {
		return true
	}
	for _, r := range c {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}
