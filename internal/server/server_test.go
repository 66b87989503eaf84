package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"canvas-sync/internal/model"
	"canvas-sync/internal/protocol"
	"canvas-sync/internal/store"
	"canvas-sync/internal/undo"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Logger = quietLogger()
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func msg(t *testing.T, typ protocol.Type, payload any) protocol.Message {
	t.Helper()
	m, err := protocol.New(typ, "", payload)
	if err != nil {
		t.Fatalf("protocol.New: %v", err)
	}
	return m
}

func createTitle(t *testing.T, s *Server, parent, text string) string {
	t.Helper()
	_, pushes := s.Apply("test", msg(t, protocol.TypeNodeCreate, protocol.NodeCreate{
		Node: model.Node{ParentID: parent, Payload: &model.Title{Text: text}},
	}))
	if len(pushes) != 1 || pushes[0].Type != protocol.TypeNodeAdded {
		t.Fatalf("expected one node-added push; got %+v", pushes)
	}
	_, p, err := protocol.Decode(mustJSON(t, pushes[0]))
	if err != nil {
		t.Fatalf("decode push: %v", err)
	}
	return p.(protocol.NodeAdded).Node.ID
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestApply_ArchivePushesChangesInOrder(t *testing.T) {
	s := newTestServer(t, Config{})
	parent := createTitle(t, s, model.RootID, "parent")
	child := createTitle(t, s, parent, "child")

	_, pushes := s.Apply("test", msg(t, protocol.TypeNodeArchive, protocol.NodeArchive{ID: parent}))
	var types []protocol.Type
	for _, p := range pushes {
		types = append(types, p.Type)
	}
	want := []protocol.Type{protocol.TypeNodeUpdated, protocol.TypeNodeRemoved, protocol.TypeNodeUpdated}
	if len(types) != len(want) {
		t.Fatalf("expected %v; got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v; got %v", want, types)
		}
	}

	st := s.State()
	if st.Nodes[child].ParentID != model.RootID {
		t.Fatalf("expected child promoted to root; got %q", st.Nodes[child].ParentID)
	}
	if len(st.RootArchivedChildren) != 1 || st.RootArchivedChildren[0].Data.ID != parent {
		t.Fatalf("unexpected root archive: %+v", st.RootArchivedChildren)
	}
	if st.Version != 4 {
		t.Fatalf("expected version bumped per applied mutation to 4; got %d", st.Version)
	}
}

func TestApply_RejectedMutationIsSilent(t *testing.T) {
	s := newTestServer(t, Config{})
	a := createTitle(t, s, model.RootID, "a")
	b := createTitle(t, s, a, "b")
	before := s.State()

	reply, pushes := s.Apply("test", msg(t, protocol.TypeNodeReparent, protocol.NodeReparent{ID: a, NewParentID: b}))
	if reply != nil || len(pushes) != 0 {
		t.Fatalf("expected no reply and no pushes; got %+v %+v", reply, pushes)
	}
	after := s.State()
	if after.Version != before.Version || after.Nodes[a].ParentID != model.RootID {
		t.Fatalf("expected state unchanged after cycle rejection")
	}

	reply, pushes = s.Apply("test", protocol.Message{Type: protocol.TypeNodeMove, Payload: json.RawMessage(`{"x":1}`)})
	if reply != nil || len(pushes) != 0 {
		t.Fatalf("expected invalid payload to be dropped")
	}
}

func TestApply_SyncRequestRepliesWithStateAndHistory(t *testing.T) {
	s := newTestServer(t, Config{UndoCapacity: 3})
	a := createTitle(t, s, model.RootID, "a")
	s.Apply("test", msg(t, protocol.TypeUndoBufferPush, protocol.UndoBufferPush{Entry: undo.Record{Entry: undo.Archive{NodeID: a, ParentID: model.RootID}}}))
	s.Apply("test", msg(t, protocol.TypeUndoBufferSetCursor, protocol.UndoBufferSetCursor{Cursor: 0}))

	req := msg(t, protocol.TypeNodeSyncRequest, nil)
	req.RequestID = "r1"
	reply, pushes := s.Apply("test", req)
	if reply == nil || reply.Type != protocol.TypeNodeSyncResponse || reply.RequestID != "r1" || len(pushes) != 0 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	_, p, err := protocol.Decode(mustJSON(t, reply))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp := p.(protocol.NodeSyncResponse)
	if _, ok := resp.State.Nodes[a]; !ok {
		t.Fatalf("expected node in sync response")
	}
	if len(resp.Undo.Entries) != 1 || resp.Undo.Cursor != 0 {
		t.Fatalf("unexpected history: %+v", resp.Undo)
	}
}

func TestApply_UndoHistoryIsPerClient(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, Config{Store: store.Store{Dir: dir}, SaveDebounce: time.Hour})
	a := createTitle(t, s, model.RootID, "a")
	b := createTitle(t, s, model.RootID, "b")
	push := func(clientID, id string) {
		s.Apply(clientID, msg(t, protocol.TypeUndoBufferPush, protocol.UndoBufferPush{
			Entry: undo.Record{Entry: undo.Archive{NodeID: id, ParentID: model.RootID}},
		}))
	}

	push("client-a", a)
	push("client-b", b)
	s.Apply("client-a", msg(t, protocol.TypeUndoBufferSetCursor, protocol.UndoBufferSetCursor{Cursor: 0}))
	if h := s.History("client-b"); h.Cursor != 1 || len(h.Entries) != 1 {
		t.Fatalf("expected client-b history untouched by client-a undo; got %+v", h)
	}
	push("client-a", b)
	if h := s.History("client-a"); h.Cursor != 1 || len(h.Entries) != 1 {
		t.Fatalf("expected client-a push to truncate only its own redo entry; got %+v", h)
	}
	h := s.History("client-b")
	if len(h.Entries) != 1 || h.Entries[0].Entry.(undo.Archive).NodeID != b {
		t.Fatalf("expected client-b entry kept; got %+v", h)
	}

	req := msg(t, protocol.TypeNodeSyncRequest, nil)
	reply, _ := s.Apply("client-b", req)
	_, p, err := protocol.Decode(mustJSON(t, reply))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp := p.(protocol.NodeSyncResponse); len(resp.Undo.Entries) != 1 || resp.Undo.Cursor != 1 {
		t.Fatalf("expected client-b's own history in its sync response; got %+v", resp.Undo)
	}
	reply, _ = s.Apply("newcomer", req)
	_, p, _ = protocol.Decode(mustJSON(t, reply))
	if resp := p.(protocol.NodeSyncResponse); len(resp.Undo.Entries) != 0 || resp.Undo.Cursor != 0 {
		t.Fatalf("expected empty history for a new client; got %+v", resp.Undo)
	}

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	s2 := newTestServer(t, Config{Store: store.Store{Dir: dir}})
	if h := s2.History("client-b"); h.Cursor != 1 || len(h.Entries) != 1 {
		t.Fatalf("expected client-b history restored after restart; got %+v", h)
	}
	if h := s2.History("client-a"); h.Cursor != 1 || len(h.Entries) != 1 {
		t.Fatalf("expected client-a history restored after restart; got %+v", h)
	}
}

func TestApply_ValidatePaths(t *testing.T) {
	s := newTestServer(t, Config{})
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(file, []byte("# hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cases := []struct {
		typ   protocol.Type
		path  string
		valid bool
	}{
		{protocol.TypeValidateDirectory, dir, true},
		{protocol.TypeValidateDirectory, file, false},
		{protocol.TypeValidateFile, file, true},
		{protocol.TypeValidateFile, dir, false},
		{protocol.TypeValidateFile, filepath.Join(dir, "missing"), false},
	}
	for _, c := range cases {
		m := msg(t, c.typ, protocol.ValidatePath{Path: c.path})
		m.RequestID = "req"
		reply, _ := s.Apply("test", m)
		if reply == nil || reply.RequestID != "req" {
			t.Fatalf("%s %s: expected reply", c.typ, c.path)
		}
		var res protocol.ValidateResult
		if err := json.Unmarshal(reply.Payload, &res); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if res.Valid != c.valid {
			t.Fatalf("%s %s: expected valid=%v; got %+v", c.typ, c.path, c.valid, res)
		}
		if !res.Valid && res.Error == "" {
			t.Fatalf("%s %s: expected an inline error", c.typ, c.path)
		}
	}
}

func TestServer_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, Config{Store: store.Store{Dir: dir}, SaveDebounce: time.Hour})
	a := createTitle(t, s, model.RootID, "kept")
	s.Apply("test", msg(t, protocol.TypeNodeMove, protocol.NodeMove{ID: a, X: 7, Y: 8}))
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	s2 := newTestServer(t, Config{Store: store.Store{Dir: dir}})
	st := s2.State()
	n, ok := st.Nodes[a]
	if !ok || n.X != 7 || n.Y != 8 {
		t.Fatalf("expected node restored at 7,8; got %+v", n)
	}
	events, err := (store.Store{Dir: dir}).ReadEvents(context.Background(), a, 0)
	if err != nil || len(events) != 2 {
		t.Fatalf("expected create+move events; got %d %v", len(events), err)
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var m protocol.Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return m
}

func TestWebSocket_BroadcastsToEveryClient(t *testing.T) {
	s := newTestServer(t, Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	connA, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial A: %v", err)
	}
	defer connA.Close()
	connB, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial B: %v", err)
	}
	defer connB.Close()

	// Garbage is ignored and the connection stays usable.
	if err := connA.WriteMessage(websocket.TextMessage, []byte("not json {{")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	create := msg(t, protocol.TypeNodeCreate, protocol.NodeCreate{Node: model.Node{ParentID: model.RootID, Payload: &model.Title{Text: "hello"}}})
	if err := connA.WriteJSON(create); err != nil {
		t.Fatalf("write: %v", err)
	}
	for name, conn := range map[string]*websocket.Conn{"A": connA, "B": connB} {
		m := readMessage(t, conn)
		if m.Type != protocol.TypeNodeAdded {
			t.Fatalf("client %s: expected node-added; got %s", name, m.Type)
		}
	}

	sync := msg(t, protocol.TypeNodeSyncRequest, nil)
	sync.RequestID = "sync-1"
	if err := connB.WriteJSON(sync); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := readMessage(t, connB)
	if m.Type != protocol.TypeNodeSyncResponse || m.RequestID != "sync-1" {
		t.Fatalf("expected sync response; got %+v", m)
	}
}

func TestHandler_StateAndMetrics(t *testing.T) {
	s := newTestServer(t, Config{})
	createTitle(t, s, model.RootID, "x")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/state")
	if err != nil {
		t.Fatalf("GET /state: %v", err)
	}
	defer resp.Body.Close()
	var body protocol.NodeSyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.State.Nodes) != 1 {
		t.Fatalf("expected one node; got %d", len(body.State.Nodes))
	}

	mresp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer mresp.Body.Close()
	b, _ := io.ReadAll(mresp.Body)
	if !strings.Contains(string(b), "canvas_messages_total") {
		t.Fatalf("expected canvas metrics exposed")
	}
}
