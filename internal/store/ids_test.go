package store

import (
	"strings"
	"testing"
	"time"

	"canvas-sync/internal/model"
)

func TestNewRandomID_HasPrefixAndLength(t *testing.T) {
	id, err := newRandomID("node", 8)
	if err != nil {
		t.Fatalf("newRandomID: %v", err)
	}
	if !strings.HasPrefix(id, "node-") {
		t.Fatalf("expected node prefix, got %q", id)
	}
	suffix := strings.TrimPrefix(id, "node-")
	if got, want := len(suffix), 8; got != want {
		t.Fatalf("expected id suffix len %d, got %d (%q)", want, got, suffix)
	}
}

func TestIDInUse_SeesDeeplyNestedArchivedRecords(t *testing.T) {
	deep := model.Node{ID: "node-deep", ParentID: "node-mid", Payload: &model.Title{}}
	mid := model.Node{
		ID:       "node-mid",
		ParentID: "node-live",
		Payload:  &model.Title{},
		ArchivedChildren: []model.ArchivedNode{
			{ArchivedAt: time.Unix(2, 0), Data: deep},
		},
	}
	st := model.NewServerState()
	st.Nodes["node-live"] = model.Node{
		ID:       "node-live",
		ParentID: model.RootID,
		Payload:  &model.Title{},
		ArchivedChildren: []model.ArchivedNode{
			{ArchivedAt: time.Unix(1, 0), Data: mid},
		},
	}
	st.RootArchivedChildren = []model.ArchivedNode{
		{ArchivedAt: time.Unix(3, 0), Data: model.Node{ID: "node-rootarch", ParentID: model.RootID, Payload: &model.Title{}}},
	}
	tr := NewTreeFrom(st)

	for _, id := range []string{"node-live", "node-mid", "node-deep", "node-rootarch", model.RootID} {
		if !tr.IDInUse(id) {
			t.Fatalf("expected %s to be in use", id)
		}
	}
	if tr.IDInUse("node-free") {
		t.Fatalf("expected node-free to be free")
	}

	id, err := tr.NewNodeID()
	if err != nil {
		t.Fatalf("NewNodeID: %v", err)
	}
	if tr.IDInUse(id) {
		t.Fatalf("expected fresh id %s to be unused", id)
	}
}
