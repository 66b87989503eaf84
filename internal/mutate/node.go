package mutate

import (
	"strings"

	"canvas-sync/internal/model"
	"canvas-sync/internal/store"
)

// Rename sets the node's display name. An empty name clears it.
func Rename(t *store.Tree, id, name string) (Result, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if t == nil || id == "" {
		return Result{}, nil
	}
	n, err := lookup(t, id)
	if err != nil {
		return Result{}, err
	}
	cur := ""
	if n.Name != nil {
		cur = *n.Name
	}
	if cur == name {
		return Result{}, nil
	}
	var res Result
	setFields(t, &res, id, model.Patch{Name: &name})
	res.EventPayload = map[string]any{"name": name}
	return res, nil
}

// SetColor sets or clears the node's color preset.
func SetColor(t *store.Tree, id, color string) (Result, error) {
	id = strings.TrimSpace(id)
	color = strings.TrimSpace(color)
	if t == nil || id == "" {
		return Result{}, nil
	}
	if !model.ValidColorPreset(color) {
		return Result{}, ErrInvalidColor
	}
	n, err := lookup(t, id)
	if err != nil {
		return Result{}, err
	}
	cur := ""
	if n.ColorPresetID != nil {
		cur = *n.ColorPresetID
	}
	if cur == color {
		return Result{}, nil
	}
	var res Result
	setFields(t, &res, id, model.Patch{ColorPresetID: &color})
	res.EventPayload = map[string]any{"colorPresetId": color}
	return res, nil
}

// BringToFront gives the node the next free z-index.
func BringToFront(t *store.Tree, id string) (Result, error) {
	id = strings.TrimSpace(id)
	if t == nil || id == "" {
		return Result{}, nil
	}
	if _, err := lookup(t, id); err != nil {
		return Result{}, err
	}
	z := t.TakeZIndex()
	var res Result
	setFields(t, &res, id, model.Patch{ZIndex: &z})
	res.EventPayload = map[string]any{"zIndex": z}
	return res, nil
}

type CreateParams struct {
	ParentID string
	X, Y     float64
	Name     string
	Payload  model.Payload
}

type CreateResult struct {
	Result
	Node model.Node
}

// Create adds a new live node with a fresh id and the next z-index.
func Create(t *store.Tree, p CreateParams) (CreateResult, error) {
	if t == nil {
		return CreateResult{}, nil
	}
	if p.Payload == nil {
		return CreateResult{}, ErrMissingPayload
	}
	parentID := strings.TrimSpace(p.ParentID)
	if parentID == "" {
		parentID = model.RootID
	}
	if !parentExists(t, parentID) {
		return CreateResult{}, NotFoundError{Kind: "parent", ID: parentID}
	}
	id, err := t.NewNodeID()
	if err != nil {
		return CreateResult{}, err
	}
	n := model.Node{
		ID:       id,
		ParentID: parentID,
		X:        p.X,
		Y:        p.Y,
		ZIndex:   t.TakeZIndex(),
		Payload:  p.Payload,
	}
	if name := strings.TrimSpace(p.Name); name != "" {
		n.Name = &name
	}
	n = n.Clone()
	t.Add(n)
	res := CreateResult{Node: n}
	res.added(n)
	res.EventPayload = map[string]any{"type": string(n.Kind()), "parentId": parentID}
	return res, nil
}
