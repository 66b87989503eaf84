package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"canvas-sync/internal/model"
	"canvas-sync/internal/mutate"
	"canvas-sync/internal/priority"
	"canvas-sync/internal/protocol"
	"canvas-sync/internal/server"
	"canvas-sync/internal/undo"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	sent []protocol.Message
}

func (r *recorder) types() []protocol.Type {
	out := make([]protocol.Type, len(r.sent))
	for i, m := range r.sent {
		out[i] = m.Type
	}
	return out
}

func (r *recorder) reset() { r.sent = nil }

func newRecordedSession(t *testing.T) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := NewSession(SessionOpts{
		Logger:        quietLogger(),
		ConfirmWindow: time.Hour,
		Send:          func(m protocol.Message) { rec.sent = append(rec.sent, m) },
	})
	t.Cleanup(s.Close)
	return s, rec
}

func push(t *testing.T, s *Session, typ protocol.Type, payload any) {
	t.Helper()
	m, err := protocol.New(typ, "", payload)
	if err != nil {
		t.Fatalf("protocol.New: %v", err)
	}
	if err := s.Handle(m); err != nil {
		t.Fatalf("Handle %s: %v", typ, err)
	}
}

func syncTo(t *testing.T, s *Session, nodes ...model.Node) {
	t.Helper()
	st := model.NewServerState()
	for _, n := range nodes {
		st.Nodes[n.ID] = n
		if n.ZIndex >= st.NextZIndex {
			st.NextZIndex = n.ZIndex + 1
		}
	}
	push(t, s, protocol.TypeNodeSyncResponse, protocol.NodeSyncResponse{State: st})
}

func title(id, parent string) model.Node {
	return model.Node{ID: id, ParentID: parent, ZIndex: 1, Payload: &model.Title{Text: id}}
}

func sameTypes(got, want []protocol.Type) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestSession_MoveStaysSuppressedUntilEveryEcho(t *testing.T) {
	s, _ := newRecordedSession(t)
	syncTo(t, s, title("a", model.RootID))

	if err := s.Move("a", 10, 10); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := s.Move("a", 20, 20); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if n, _ := s.Node("a"); n.X != 20 {
		t.Fatalf("expected optimistic x=20; got %v", n.X)
	}

	push(t, s, protocol.TypeNodeUpdated, protocol.NodeUpdated{ID: "a", Patch: model.PositionPatch(10, 10)})
	if n, _ := s.Node("a"); n.X != 20 {
		t.Fatalf("expected first echo suppressed, x=20; got %v", n.X)
	}
	if !s.Overrides().Suppressed("a").Has(model.FieldPosition) {
		t.Fatalf("expected position still suppressed")
	}

	push(t, s, protocol.TypeNodeUpdated, protocol.NodeUpdated{ID: "a", Patch: model.PositionPatch(20, 20)})
	if s.Overrides().Len() != 0 {
		t.Fatalf("expected overrides cleared after second echo; got %d", s.Overrides().Len())
	}
	if n, _ := s.Node("a"); n.X != 20 {
		t.Fatalf("expected canonical x=20; got %v", n.X)
	}
}

func TestSession_UnrelatedEchoKeepsOverride(t *testing.T) {
	s, _ := newRecordedSession(t)
	syncTo(t, s, title("a", model.RootID))

	if err := s.SetColor("a", "blue"); err != nil {
		t.Fatalf("SetColor: %v", err)
	}
	push(t, s, protocol.TypeNodeUpdated, protocol.NodeUpdated{ID: "a", Patch: model.PositionPatch(5, 5)})

	n, _ := s.Node("a")
	if n.ColorPresetID == nil || *n.ColorPresetID != "blue" {
		t.Fatalf("expected local color to survive a position echo; got %v", n.ColorPresetID)
	}
	if n.X != 5 || n.Y != 5 {
		t.Fatalf("expected server position applied; got %v,%v", n.X, n.Y)
	}
}

func TestSession_ReparentCycleRefusedLocally(t *testing.T) {
	s, rec := newRecordedSession(t)
	syncTo(t, s, title("a", model.RootID), title("b", "a"))
	rec.reset()

	err := s.Reparent("a", "b")
	var cyc mutate.CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CycleError; got %v", err)
	}
	if len(rec.sent) != 0 {
		t.Fatalf("expected nothing sent; got %v", rec.types())
	}
	if s.Overrides().Len() != 0 {
		t.Fatalf("expected no overrides after refusal")
	}
}

func TestSession_ResyncDiscardsOverrides(t *testing.T) {
	s, _ := newRecordedSession(t)
	syncTo(t, s, title("a", model.RootID))
	_ = s.Move("a", 9, 9)
	_ = s.Rename("a", "local")

	syncTo(t, s, title("a", model.RootID))
	if s.Overrides().Len() != 0 {
		t.Fatalf("expected resync to clear overrides; got %d", s.Overrides().Len())
	}
	n, _ := s.Node("a")
	if n.X != 0 || n.Name != nil {
		t.Fatalf("expected server values after resync; got %+v", n)
	}
	if s.History().Len() != 0 {
		t.Fatalf("expected history replaced by the server's")
	}
}

func TestSession_ArchiveAndUndoAreOptimistic(t *testing.T) {
	s, rec := newRecordedSession(t)
	syncTo(t, s, title("a", model.RootID), title("b", "a"))
	rec.reset()

	if err := s.Archive("a"); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if _, ok := s.Node("a"); ok {
		t.Fatalf("expected a hidden right away")
	}
	if b, _ := s.Node("b"); b.ParentID != model.RootID {
		t.Fatalf("expected b promoted to root; got %q", b.ParentID)
	}
	if want := []protocol.Type{protocol.TypeNodeArchive, protocol.TypeUndoBufferPush}; !sameTypes(rec.types(), want) {
		t.Fatalf("expected %v; got %v", want, rec.types())
	}
	rec.reset()

	if !s.Undo() {
		t.Fatalf("expected undo to run")
	}
	if _, ok := s.Node("a"); !ok {
		t.Fatalf("expected a restored locally")
	}
	if b, _ := s.Node("b"); b.ParentID != "a" {
		t.Fatalf("expected b back under a; got %q", b.ParentID)
	}
	want := []protocol.Type{protocol.TypeNodeUnarchive, protocol.TypeNodeReparent, protocol.TypeUndoBufferSetCursor}
	if !sameTypes(rec.types(), want) {
		t.Fatalf("expected %v; got %v", want, rec.types())
	}
	if e, dir, ok := s.Confirmation(); !ok || dir != undo.DirectionUndo || e.Kind() != undo.KindArchive {
		t.Fatalf("expected undo confirmation for the archive; got %v %s %v", e, dir, ok)
	}
}

func TestSession_ArchiveAfterUnarchiveSurvivesUnarchiveEcho(t *testing.T) {
	s, _ := newRecordedSession(t)
	p := title("p", model.RootID)
	a := title("a", "p")
	p.ArchivedChildren = []model.ArchivedNode{{ArchivedAt: time.Now().UTC(), Data: a}}
	syncTo(t, s, p)

	if err := s.Unarchive("p", "a"); err != nil {
		t.Fatalf("Unarchive: %v", err)
	}
	if _, ok := s.Node("a"); !ok {
		t.Fatalf("expected a shown right after unarchive")
	}
	if err := s.Archive("a"); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	// The server echoes the unarchive before the archive.
	push(t, s, protocol.TypeNodeAdded, protocol.NodeAdded{Node: a})
	if _, ok := s.Node("a"); ok {
		t.Fatalf("expected a to stay archived after the unarchive echo")
	}
	if _, ok := s.View().Nodes["a"]; ok {
		t.Fatalf("expected merged view to leave a out")
	}

	push(t, s, protocol.TypeNodeRemoved, protocol.NodeRemoved{ID: "a"})
	if _, ok := s.Node("a"); ok {
		t.Fatalf("expected a gone after the archive echo")
	}
	if s.Overrides().Hidden("a") {
		t.Fatalf("expected the tombstone cleared by the archive echo")
	}
}

func TestSession_UndoSkipsVanishedNodes(t *testing.T) {
	s, rec := newRecordedSession(t)
	syncTo(t, s, title("a", model.RootID))
	_ = s.Move("a", 3, 3)
	push(t, s, protocol.TypeNodeRemoved, protocol.NodeRemoved{ID: "a"})
	rec.reset()

	if !s.Undo() {
		t.Fatalf("expected undo to step back")
	}
	if want := []protocol.Type{protocol.TypeUndoBufferSetCursor}; !sameTypes(rec.types(), want) {
		t.Fatalf("expected only a cursor update; got %v", rec.types())
	}
	if s.Undo() {
		t.Fatalf("expected nothing left to undo")
	}
}

func TestSession_FocusOnNonTerminalDropsTerminalTime(t *testing.T) {
	s, _ := newRecordedSession(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	term := func(id string, min int) model.Node {
		return model.Node{ID: id, ParentID: model.RootID, Payload: &model.Terminal{
			CreatedAt: base.Add(time.Duration(min) * time.Minute),
			Claude:    &model.ClaudeStatus{State: model.ClaudeIdle, Seen: true},
		}}
	}
	syncTo(t, s, term("A", 1), term("B", 2), term("C", 3), title("note", model.RootID))

	s.Focus("B")
	s.Focus("note")
	id, ok := s.FocusAdjacent(priority.Right)
	if !ok || id != "A" {
		t.Fatalf("expected navigation from a note to start at A, not after B; got %q", id)
	}
}

func TestSession_FocusResumesFromPhantom(t *testing.T) {
	s, _ := newRecordedSession(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	term := func(id string, min int) model.Node {
		return model.Node{ID: id, ParentID: model.RootID, Payload: &model.Terminal{
			CreatedAt: base.Add(time.Duration(min) * time.Minute),
			Claude:    &model.ClaudeStatus{State: model.ClaudeIdle, Seen: true},
		}}
	}
	syncTo(t, s, term("A", 1), term("B", 2), term("C", 3))

	s.Focus("B")
	push(t, s, protocol.TypeNodeRemoved, protocol.NodeRemoved{ID: "B"})

	id, ok := s.FocusAdjacent(priority.Left)
	if !ok || id != "A" {
		t.Fatalf("expected A left of the vanished B; got %q", id)
	}
	id, _ = s.FocusAdjacent(priority.Right)
	if id != "C" {
		t.Fatalf("expected C right of A; got %q", id)
	}
}

// loop wires a Session straight into a Server's Apply, delivering replies and
// pushes synchronously on pump.
type loop struct {
	t     *testing.T
	srv   *server.Server
	s     *Session
	queue []protocol.Message
}

func newLoop(t *testing.T) *loop {
	t.Helper()
	srv, err := server.New(context.Background(), server.Config{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	l := &loop{t: t, srv: srv}
	l.s = NewSession(SessionOpts{
		Logger:        quietLogger(),
		ConfirmWindow: time.Hour,
		Send:          func(m protocol.Message) { l.queue = append(l.queue, m) },
	})
	t.Cleanup(l.s.Close)
	l.s.RequestSync()
	l.pump()
	return l
}

func (l *loop) pump() {
	l.t.Helper()
	for len(l.queue) > 0 {
		m := l.queue[0]
		l.queue = l.queue[1:]
		reply, pushes := l.srv.Apply("loop", m)
		if reply != nil {
			if err := l.s.Handle(*reply); err != nil {
				l.t.Fatalf("handle reply: %v", err)
			}
		}
		for _, p := range pushes {
			if err := l.s.Handle(p); err != nil {
				l.t.Fatalf("handle push: %v", err)
			}
		}
	}
}

func (l *loop) create(parent, text string) string {
	l.t.Helper()
	before := l.s.Canonical().Nodes
	if err := l.s.Create(model.Node{ParentID: parent, Payload: &model.Title{Text: text}}); err != nil {
		l.t.Fatalf("Create: %v", err)
	}
	l.pump()
	for id := range l.s.Canonical().Nodes {
		if _, ok := before[id]; !ok {
			return id
		}
	}
	l.t.Fatalf("expected a new node for %q", text)
	return ""
}

func (l *loop) assertConverged() {
	l.t.Helper()
	if n := l.s.Overrides().Len(); n != 0 {
		l.t.Fatalf("expected no outstanding overrides; got %d", n)
	}
	srvState, srvHist := l.srv.State(), l.srv.History("loop")
	local := l.s.Canonical()
	if len(srvState.Nodes) != len(local.Nodes) {
		l.t.Fatalf("expected %d nodes; got %d", len(srvState.Nodes), len(local.Nodes))
	}
	for id, n := range srvState.Nodes {
		got := local.Nodes[id]
		if got.ParentID != n.ParentID || got.X != n.X || got.Y != n.Y {
			l.t.Fatalf("node %s diverged: server %+v local %+v", id, n, got)
		}
	}
	if srvHist.Cursor != l.s.History().Cursor() || len(srvHist.Entries) != l.s.History().Len() {
		l.t.Fatalf("expected history in step; server %d/%d local %d/%d",
			srvHist.Cursor, len(srvHist.Entries), l.s.History().Cursor(), l.s.History().Len())
	}
}

func TestLoop_ArchiveUndoRedoConverges(t *testing.T) {
	l := newLoop(t)
	a := l.create(model.RootID, "a")
	b := l.create(a, "b")
	c := l.create(a, "c")

	if err := l.s.Archive(a); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	l.pump()
	l.assertConverged()
	st := l.s.View()
	if _, live := st.Nodes[a]; live || len(st.RootArchivedChildren) != 1 {
		t.Fatalf("expected a archived at root; got %+v", st.RootArchivedChildren)
	}

	l.s.Undo()
	l.pump()
	l.assertConverged()
	st = l.s.View()
	if st.Nodes[b].ParentID != a || st.Nodes[c].ParentID != a {
		t.Fatalf("expected b and c back under a; got %q %q", st.Nodes[b].ParentID, st.Nodes[c].ParentID)
	}
	if len(st.RootArchivedChildren) != 0 {
		t.Fatalf("expected root archive emptied")
	}

	l.s.Redo()
	l.pump()
	l.assertConverged()
	if _, live := l.s.View().Nodes[a]; live {
		t.Fatalf("expected a archived again after redo")
	}
}

func TestLoop_MoveSubtreeAndUndo(t *testing.T) {
	l := newLoop(t)
	a := l.create(model.RootID, "a")
	b := l.create(a, "b")
	if err := l.s.Move(b, 5, 5); err != nil {
		t.Fatalf("Move: %v", err)
	}
	l.pump()

	if err := l.s.MoveSubtree(a, 10, 0); err != nil {
		t.Fatalf("MoveSubtree: %v", err)
	}
	l.pump()
	l.assertConverged()
	if n := l.s.View().Nodes[b]; n.X != 15 || n.Y != 5 {
		t.Fatalf("expected b dragged to 15,5; got %v,%v", n.X, n.Y)
	}

	l.s.Undo()
	l.pump()
	l.assertConverged()
	if n := l.s.View().Nodes[b]; n.X != 5 || n.Y != 5 {
		t.Fatalf("expected b back at 5,5; got %v,%v", n.X, n.Y)
	}
}

func TestLoop_ReparentUndoRestoresParent(t *testing.T) {
	l := newLoop(t)
	a := l.create(model.RootID, "a")
	b := l.create(model.RootID, "b")

	if err := l.s.Reparent(b, a); err != nil {
		t.Fatalf("Reparent: %v", err)
	}
	l.pump()
	l.assertConverged()

	l.s.Undo()
	l.pump()
	l.assertConverged()
	if p := l.s.View().Nodes[b].ParentID; p != model.RootID {
		t.Fatalf("expected b back at root; got %q", p)
	}
}
