package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestNode_JSONFlattensVariantFieldsWithTypeDiscriminant(t *testing.T) {
	n := Node{
		ID:       "node-a",
		ParentID: RootID,
		X:        10,
		Y:        20,
		ZIndex:   3,
		Name:     strPtr("notes"),
		Payload:  &Markdown{Content: "# hi", Width: 300, Height: 200},
	}
	b, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["type"] != "markdown" {
		t.Fatalf("expected type=markdown; got %v", raw["type"])
	}
	if raw["content"] != "# hi" {
		t.Fatalf("expected flat content field; got %v", raw["content"])
	}
	if _, ok := raw["archivedChildren"].([]any); !ok {
		t.Fatalf("expected archivedChildren to be an empty list; got %v", raw["archivedChildren"])
	}

	var got Node
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	md, ok := got.Payload.(*Markdown)
	if !ok {
		t.Fatalf("expected *Markdown payload; got %T", got.Payload)
	}
	if md.Content != "# hi" || md.Width != 300 {
		t.Fatalf("unexpected payload: %+v", md)
	}
	if got.Name == nil || *got.Name != "notes" {
		t.Fatalf("expected name preserved; got %v", got.Name)
	}
}

func TestNode_EveryKindDecodes(t *testing.T) {
	for _, k := range Kinds {
		p, err := newPayload(k)
		if err != nil {
			t.Fatalf("newPayload(%s): %v", k, err)
		}
		if p.Kind() != k {
			t.Fatalf("expected kind %s; got %s", k, p.Kind())
		}
		b, err := json.Marshal(Node{ID: "n", ParentID: RootID, Payload: p})
		if err != nil {
			t.Fatalf("marshal %s: %v", k, err)
		}
		var n Node
		if err := json.Unmarshal(b, &n); err != nil {
			t.Fatalf("unmarshal %s: %v", k, err)
		}
		if n.Kind() != k {
			t.Fatalf("expected decoded kind %s; got %s", k, n.Kind())
		}
	}
}

func TestNode_UnknownKindRejected(t *testing.T) {
	var n Node
	err := json.Unmarshal([]byte(`{"id":"x","type":"spreadsheet","parentId":"root"}`), &n)
	if err == nil || !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind; got %v", err)
	}
}

func TestNode_CloneDoesNotShareArchivedChildren(t *testing.T) {
	child := Node{ID: "c", ParentID: "p", Payload: &Title{Text: "old"}}
	n := Node{
		ID:       "p",
		ParentID: RootID,
		Payload:  &Directory{Cwd: "/tmp", GitStatus: &GitStatus{Branch: "main"}},
		ArchivedChildren: []ArchivedNode{
			{ArchivedAt: time.Unix(1, 0), Data: child},
		},
	}
	cp := n.Clone()
	cp.ArchivedChildren[0].Data.Payload.(*Title).Text = "new"
	cp.Payload.(*Directory).GitStatus.Branch = "dev"

	if got := n.ArchivedChildren[0].Data.Payload.(*Title).Text; got != "old" {
		t.Fatalf("expected original archived child untouched; got %q", got)
	}
	if got := n.Payload.(*Directory).GitStatus.Branch; got != "main" {
		t.Fatalf("expected original git status untouched; got %q", got)
	}
}

func TestPatch_FieldsMergeAndWithout(t *testing.T) {
	p := PositionPatch(1, 2)
	if p.Fields() != FieldPosition {
		t.Fatalf("expected position mask; got %s", p.Fields())
	}
	color := "blue"
	p = p.Merge(Patch{ColorPresetID: &color})
	if !p.Fields().Has(FieldColorPresetID | FieldX) {
		t.Fatalf("expected merged mask; got %s", p.Fields())
	}
	rest := p.Without(FieldPosition)
	if rest.Fields() != FieldColorPresetID {
		t.Fatalf("expected only color left; got %s", rest.Fields())
	}
	if got := p.Only(FieldX).Fields(); got != FieldX {
		t.Fatalf("expected only x; got %s", got)
	}
	if s := (FieldX | FieldName).String(); s != "x,name" {
		t.Fatalf("unexpected field names %q", s)
	}
}

func TestPatch_ApplyIgnoresFieldsOfOtherVariants(t *testing.T) {
	n := Node{ID: "t", ParentID: RootID, Payload: &Title{Text: "a"}}
	content := "ignored"
	text := "b"
	name := ""
	n.Name = strPtr("old")
	Patch{Content: &content, Text: &text, Name: &name}.Apply(&n)

	if got := n.Payload.(*Title).Text; got != "b" {
		t.Fatalf("expected text applied; got %q", got)
	}
	if n.Name != nil {
		t.Fatalf("expected empty name to clear; got %q", *n.Name)
	}
	b, _ := json.Marshal(n)
	if strings.Contains(string(b), "ignored") {
		t.Fatalf("expected markdown field not applied to title: %s", b)
	}
}
