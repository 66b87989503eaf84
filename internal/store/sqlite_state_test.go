package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"canvas-sync/internal/model"
	"canvas-sync/internal/undo"
)

func TestSQLiteState_SaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := Store{Dir: t.TempDir()}

	_, _, ok, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false before first save")
	}

	tr := NewTree()
	tr.Add(titleNode("a", model.RootID, 3))
	tr.Add(model.Node{ID: "t", ParentID: "a", ZIndex: 4, Payload: &model.Terminal{Cwd: "/work", Claude: &model.ClaudeStatus{State: model.ClaudeIdle}}})
	tr.SetArchivedChildren(model.RootID, []model.ArchivedNode{{
		ArchivedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		Data:       titleNode("gone", model.RootID, 1),
	}})
	tr.BumpVersion()

	log := undo.NewLog(10)
	log.Push(undo.Archive{NodeID: "gone", ParentID: model.RootID})
	log.Push(undo.Move{Moves: []undo.NodeMove{{ID: "a", After: model.Position{X: 1}}}})
	log.UndoStep()

	other := undo.NewLog(10)
	other.Push(undo.Unarchive{NodeID: "gone", ParentID: model.RootID})

	if err := s.SaveState(ctx, tr.Snapshot(), map[string]undo.Snapshot{"ui": log.Snapshot(), "cli": other.Snapshot()}); err != nil {
		t.Fatalf("save: %v", err)
	}

	st, hists, ok, err := s.LoadState(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if st.Version != 2 || st.NextZIndex != 5 {
		t.Fatalf("unexpected meta: version=%d next=%d", st.Version, st.NextZIndex)
	}
	if len(st.Nodes) != 2 {
		t.Fatalf("expected 2 nodes; got %d", len(st.Nodes))
	}
	term, ok := st.Nodes["t"].Payload.(*model.Terminal)
	if !ok || term.Cwd != "/work" || term.Claude == nil || term.Claude.State != model.ClaudeIdle {
		t.Fatalf("unexpected terminal: %+v", st.Nodes["t"])
	}
	if len(st.RootArchivedChildren) != 1 || st.RootArchivedChildren[0].Data.ID != "gone" {
		t.Fatalf("unexpected root archive: %+v", st.RootArchivedChildren)
	}
	hist := hists["ui"]
	if hist.Cursor != 1 || len(hist.Entries) != 2 {
		t.Fatalf("unexpected history: cursor=%d len=%d", hist.Cursor, len(hist.Entries))
	}
	if _, ok := hist.Entries[1].Entry.(undo.Move); !ok {
		t.Fatalf("expected move entry second; got %T", hist.Entries[1].Entry)
	}
	if cli := hists["cli"]; cli.Cursor != 1 || len(cli.Entries) != 1 {
		t.Fatalf("expected separate cli history; got %+v", cli)
	}
	if _, ok := hists["cli"].Entries[0].Entry.(undo.Unarchive); !ok {
		t.Fatalf("expected unarchive entry for cli; got %T", hists["cli"].Entries[0].Entry)
	}

	// A second save replaces rather than accumulates.
	tr.Remove("t")
	if err := s.SaveState(ctx, tr.Snapshot(), nil); err != nil {
		t.Fatalf("save 2: %v", err)
	}
	st, hists, _, err = s.LoadState(ctx)
	if err != nil {
		t.Fatalf("load 2: %v", err)
	}
	if len(st.Nodes) != 1 || len(hists) != 0 {
		t.Fatalf("expected replace-all; got %d nodes, %d histories", len(st.Nodes), len(hists))
	}
}

func TestEventLog_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	s := Store{Dir: t.TempDir()}

	if err := s.AppendEvent(ctx, "client-1", "node-move", "a", map[string]any{"x": 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendEvent(ctx, "client-2", "node-archive", "b", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendEvent(ctx, "client-1", "", "a", nil); err == nil {
		t.Fatalf("expected error for missing type")
	}

	all, err := s.ReadEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(all) != 2 || all[0].Type != "node-move" || all[1].Seq != 2 {
		t.Fatalf("unexpected events: %+v", all)
	}
	onlyB, err := s.ReadEvents(ctx, "b", 0)
	if err != nil || len(onlyB) != 1 || onlyB[0].ClientID != "client-2" {
		t.Fatalf("unexpected filtered events: %+v %v", onlyB, err)
	}
	last, err := s.ReadEvents(ctx, "", 1)
	if err != nil || len(last) != 1 || last[0].Type != "node-archive" {
		t.Fatalf("expected newest event with limit 1; got %+v %v", last, err)
	}
}

func TestDebouncedSaver_CoalescesAndFlushes(t *testing.T) {
	var calls atomic.Int32
	tr := NewTree()
	tr.Add(titleNode("a", model.RootID, 1))
	s := Store{Dir: t.TempDir()}
	d := NewDebouncedSaver(DebouncedSaverOpts{
		Store:    s,
		Debounce: time.Hour,
		Snapshot: func() (model.ServerState, map[string]undo.Snapshot) {
			calls.Add(1)
			return tr.Snapshot(), nil
		},
	})
	d.Notify()
	d.Notify()
	d.Notify()
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one save; got %d", got)
	}
	if err := d.Flush(context.Background()); err != nil || calls.Load() != 1 {
		t.Fatalf("expected second flush to be a no-op")
	}
	st, _, ok, err := s.LoadState(context.Background())
	if err != nil || !ok || len(st.Nodes) != 1 {
		t.Fatalf("expected saved state; ok=%v err=%v", ok, err)
	}
}
