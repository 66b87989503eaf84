package model

import "strings"

// Field identifies one patchable node field. Fields combine into a bitmask.
type Field uint32

const (
	FieldParentID Field = 1 << iota
	FieldX
	FieldY
	FieldZIndex
	FieldName
	FieldColorPresetID
	FieldArchivedChildren
	FieldContent
	FieldWidth
	FieldHeight
	FieldCwd
	FieldPath
	FieldText
	FieldAlive
	FieldCols
	FieldRows
	FieldClaude
	FieldGitStatus

	fieldEnd
)

// FieldPosition is the mask touched by a move.
const FieldPosition = FieldX | FieldY

var fieldNames = map[Field]string{
	FieldParentID:         "parentId",
	FieldX:                "x",
	FieldY:                "y",
	FieldZIndex:           "zIndex",
	FieldName:             "name",
	FieldColorPresetID:    "colorPresetId",
	FieldArchivedChildren: "archivedChildren",
	FieldContent:          "content",
	FieldWidth:            "width",
	FieldHeight:           "height",
	FieldCwd:              "cwd",
	FieldPath:             "path",
	FieldText:             "text",
	FieldAlive:            "alive",
	FieldCols:             "cols",
	FieldRows:             "rows",
	FieldClaude:           "claude",
	FieldGitStatus:        "gitStatus",
}

func (f Field) Has(other Field) bool { return f&other == other }

// Each calls fn for every single field set in f, in declaration order.
func (f Field) Each(fn func(Field)) {
	for b := Field(1); b < fieldEnd; b <<= 1 {
		if f&b != 0 {
			fn(b)
		}
	}
}

func (f Field) String() string {
	names := []string{}
	f.Each(func(b Field) { names = append(names, fieldNames[b]) })
	return strings.Join(names, ",")
}

// Patch is a typed partial update of a node. A nil pointer means "not set".
// Variant fields are ignored when applied to a node of a variant that lacks them.
type Patch struct {
	ParentID         *string         `json:"parentId,omitempty"`
	X                *float64        `json:"x,omitempty"`
	Y                *float64        `json:"y,omitempty"`
	ZIndex           *int            `json:"zIndex,omitempty"`
	Name             *string         `json:"name,omitempty"`
	ColorPresetID    *string         `json:"colorPresetId,omitempty"`
	ArchivedChildren *[]ArchivedNode `json:"archivedChildren,omitempty"`

	Content   *string       `json:"content,omitempty"`
	Width     *float64      `json:"width,omitempty"`
	Height    *float64      `json:"height,omitempty"`
	Cwd       *string       `json:"cwd,omitempty"`
	Path      *string       `json:"path,omitempty"`
	Text      *string       `json:"text,omitempty"`
	Alive     *bool         `json:"alive,omitempty"`
	Cols      *int          `json:"cols,omitempty"`
	Rows      *int          `json:"rows,omitempty"`
	Claude    *ClaudeStatus `json:"claude,omitempty"`
	GitStatus *GitStatus    `json:"gitStatus,omitempty"`
}

func PositionPatch(x, y float64) Patch {
	return Patch{X: &x, Y: &y}
}

func ParentPatch(parentID string) Patch {
	return Patch{ParentID: &parentID}
}

func ArchivedChildrenPatch(xs []ArchivedNode) Patch {
	cp := CloneArchived(xs)
	if cp == nil {
		cp = []ArchivedNode{}
	}
	return Patch{ArchivedChildren: &cp}
}

// Fields reports which fields the patch sets.
func (p Patch) Fields() Field {
	var f Field
	set := func(ok bool, b Field) {
		if ok {
			f |= b
		}
	}
	set(p.ParentID != nil, FieldParentID)
	set(p.X != nil, FieldX)
	set(p.Y != nil, FieldY)
	set(p.ZIndex != nil, FieldZIndex)
	set(p.Name != nil, FieldName)
	set(p.ColorPresetID != nil, FieldColorPresetID)
	set(p.ArchivedChildren != nil, FieldArchivedChildren)
	set(p.Content != nil, FieldContent)
	set(p.Width != nil, FieldWidth)
	set(p.Height != nil, FieldHeight)
	set(p.Cwd != nil, FieldCwd)
	set(p.Path != nil, FieldPath)
	set(p.Text != nil, FieldText)
	set(p.Alive != nil, FieldAlive)
	set(p.Cols != nil, FieldCols)
	set(p.Rows != nil, FieldRows)
	set(p.Claude != nil, FieldClaude)
	set(p.GitStatus != nil, FieldGitStatus)
	return f
}

func (p Patch) IsEmpty() bool { return p.Fields() == 0 }

// Merge returns p with every field set in o overwritten by o's value.
func (p Patch) Merge(o Patch) Patch {
	if o.ParentID != nil {
		p.ParentID = o.ParentID
	}
	if o.X != nil {
		p.X = o.X
	}
	if o.Y != nil {
		p.Y = o.Y
	}
	if o.ZIndex != nil {
		p.ZIndex = o.ZIndex
	}
	if o.Name != nil {
		p.Name = o.Name
	}
	if o.ColorPresetID != nil {
		p.ColorPresetID = o.ColorPresetID
	}
	if o.ArchivedChildren != nil {
		p.ArchivedChildren = o.ArchivedChildren
	}
	if o.Content != nil {
		p.Content = o.Content
	}
	if o.Width != nil {
		p.Width = o.Width
	}
	if o.Height != nil {
		p.Height = o.Height
	}
	if o.Cwd != nil {
		p.Cwd = o.Cwd
	}
	if o.Path != nil {
		p.Path = o.Path
	}
	if o.Text != nil {
		p.Text = o.Text
	}
	if o.Alive != nil {
		p.Alive = o.Alive
	}
	if o.Cols != nil {
		p.Cols = o.Cols
	}
	if o.Rows != nil {
		p.Rows = o.Rows
	}
	if o.Claude != nil {
		p.Claude = o.Claude
	}
	if o.GitStatus != nil {
		p.GitStatus = o.GitStatus
	}
	return p
}

// Without returns p with the fields in mask unset.
func (p Patch) Without(mask Field) Patch {
	if mask.Has(FieldParentID) {
		p.ParentID = nil
	}
	if mask.Has(FieldX) {
		p.X = nil
	}
	if mask.Has(FieldY) {
		p.Y = nil
	}
	if mask.Has(FieldZIndex) {
		p.ZIndex = nil
	}
	if mask.Has(FieldName) {
		p.Name = nil
	}
	if mask.Has(FieldColorPresetID) {
		p.ColorPresetID = nil
	}
	if mask.Has(FieldArchivedChildren) {
		p.ArchivedChildren = nil
	}
	if mask.Has(FieldContent) {
		p.Content = nil
	}
	if mask.Has(FieldWidth) {
		p.Width = nil
	}
	if mask.Has(FieldHeight) {
		p.Height = nil
	}
	if mask.Has(FieldCwd) {
		p.Cwd = nil
	}
	if mask.Has(FieldPath) {
		p.Path = nil
	}
	if mask.Has(FieldText) {
		p.Text = nil
	}
	if mask.Has(FieldAlive) {
		p.Alive = nil
	}
	if mask.Has(FieldCols) {
		p.Cols = nil
	}
	if mask.Has(FieldRows) {
		p.Rows = nil
	}
	if mask.Has(FieldClaude) {
		p.Claude = nil
	}
	if mask.Has(FieldGitStatus) {
		p.GitStatus = nil
	}
	return p
}

// Only returns p restricted to the fields in mask.
func (p Patch) Only(mask Field) Patch {
	return p.Without(^mask)
}

// Apply shallow-merges the patch into n. Values are copied, so n never aliases p.
func (p Patch) Apply(n *Node) {
	if p.ParentID != nil {
		n.ParentID = *p.ParentID
	}
	if p.X != nil {
		n.X = *p.X
	}
	if p.Y != nil {
		n.Y = *p.Y
	}
	if p.ZIndex != nil {
		n.ZIndex = *p.ZIndex
	}
	if p.Name != nil {
		n.Name = optionalString(*p.Name)
	}
	if p.ColorPresetID != nil {
		n.ColorPresetID = optionalString(*p.ColorPresetID)
	}
	if p.ArchivedChildren != nil {
		n.ArchivedChildren = CloneArchived(*p.ArchivedChildren)
	}

	switch v := n.Payload.(type) {
	case *Terminal:
		if p.Cwd != nil {
			v.Cwd = *p.Cwd
		}
		if p.Alive != nil {
			v.Alive = *p.Alive
		}
		if p.Cols != nil {
			v.Cols = *p.Cols
		}
		if p.Rows != nil {
			v.Rows = *p.Rows
		}
		if p.Claude != nil {
			c := *p.Claude
			v.Claude = &c
		}
	case *Markdown:
		if p.Content != nil {
			v.Content = *p.Content
		}
		if p.Width != nil {
			v.Width = *p.Width
		}
		if p.Height != nil {
			v.Height = *p.Height
		}
	case *Directory:
		if p.Cwd != nil {
			v.Cwd = *p.Cwd
		}
		if p.GitStatus != nil {
			g := *p.GitStatus
			v.GitStatus = &g
		}
	case *File:
		if p.Path != nil {
			v.Path = *p.Path
		}
		if p.Width != nil {
			v.Width = *p.Width
		}
		if p.Height != nil {
			v.Height = *p.Height
		}
	case *Title:
		if p.Text != nil {
			v.Text = *p.Text
		}
	case nil:
	}
}

// An empty string clears an optional field.
func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
