// Package client keeps a local copy of the shared tree, applies user edits
// optimistically and reconciles them with the server's push events.
package client

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"canvas-sync/internal/model"
	"canvas-sync/internal/mutate"
	"canvas-sync/internal/override"
	"canvas-sync/internal/priority"
	"canvas-sync/internal/protocol"
	"canvas-sync/internal/store"
	"canvas-sync/internal/undo"
)

// Session is the client-side state machine. It is driven from one goroutine
// (see Client) and is not safe for concurrent use.
type Session struct {
	tree    *store.Tree
	layer   *override.Layer
	hist    *undo.Log
	confirm *undo.Confirmation
	log     *slog.Logger
	now     func() time.Time
	send    func(protocol.Message)

	// Outstanding local writes per node and field, awaiting server echoes.
	pending map[string]map[model.Field]int

	focusID        string
	focusCreatedAt time.Time
	synced         bool
}

type SessionOpts struct {
	UndoCapacity  int
	ConfirmWindow time.Duration
	// OnConfirmChange fires when the undo/redo confirmation appears or expires.
	OnConfirmChange func()
	Logger          *slog.Logger
	// Send delivers an outbound message. It must not block for long.
	Send func(protocol.Message)
}

func NewSession(opts SessionOpts) *Session {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	send := opts.Send
	if send == nil {
		send = func(protocol.Message) {}
	}
	return &Session{
		tree:    store.NewTree(),
		layer:   override.New(),
		hist:    undo.NewLog(opts.UndoCapacity),
		confirm: undo.NewConfirmation(undo.ConfirmationOpts{Window: opts.ConfirmWindow, OnChange: opts.OnConfirmChange}),
		log:     log,
		now:     time.Now,
		send:    send,
		pending: map[string]map[model.Field]int{},
	}
}

// View returns the merged state every reader should render.
func (s *Session) View() model.ServerState { return s.layer.MergeView(s.tree) }

func (s *Session) Node(id string) (model.Node, bool) { return s.layer.View(s.tree, id) }

// Canonical returns the server's last known state without local overrides.
func (s *Session) Canonical() model.ServerState { return s.tree.Snapshot() }

func (s *Session) Synced() bool { return s.synced }

func (s *Session) Overrides() *override.Layer { return s.layer }

func (s *Session) History() *undo.Log { return s.hist }

// Confirmation returns the undo/redo target currently on display, if any.
func (s *Session) Confirmation() (undo.Entry, undo.Direction, bool) { return s.confirm.Current() }

// Close stops the confirmation timer.
func (s *Session) Close() { s.confirm.Stop() }

// RequestSync asks the server for the full state. The response replaces
// everything held locally.
func (s *Session) RequestSync() string {
	id := uuid.NewString()
	s.emit(protocol.TypeNodeSyncRequest, id, nil)
	return id
}

// Handle applies one inbound message.
func (s *Session) Handle(m protocol.Message) error {
	p, err := protocol.DecodePayload(m)
	if err != nil {
		return err
	}
	switch v := p.(type) {
	case protocol.NodeSyncResponse:
		s.tree.Replace(v.State)
		s.layer.Clear()
		s.pending = map[string]map[model.Field]int{}
		s.hist.Restore(v.Undo)
		s.synced = true
		s.log.Debug("resynced", "nodes", s.tree.Len(), "version", s.tree.Version())
	case protocol.NodeUpdated:
		s.tree.ApplyFieldUpdate(v.ID, v.Patch)
		s.layer.Reconcile(v.ID, v.Patch, s.settle(v.ID, v.Patch.Fields()))
	case protocol.NodeAdded:
		s.tree.Add(v.Node)
		s.layer.Unprovision(v.Node.ID)
	case protocol.NodeRemoved:
		s.tree.Remove(v.ID)
		if s.layer.Provisional(v.ID) {
			// Restored locally before the server caught up with the archive.
			s.layer.Unhide(v.ID)
			break
		}
		s.layer.Drop(v.ID)
		delete(s.pending, v.ID)
	default:
		s.log.Debug("ignored message", "type", string(m.Type))
	}
	return nil
}

// expect records one outstanding local write for each field in mask.
func (s *Session) expect(id string, mask model.Field) {
	m, ok := s.pending[id]
	if !ok {
		m = map[model.Field]int{}
		s.pending[id] = m
	}
	mask.Each(func(f model.Field) { m[f]++ })
}

// settle consumes one echo for each field in mask and returns the fields
// whose every local write has now been echoed.
func (s *Session) settle(id string, mask model.Field) model.Field {
	m, ok := s.pending[id]
	if !ok {
		return 0
	}
	var clear model.Field
	mask.Each(func(f model.Field) {
		n := m[f]
		if n <= 0 {
			return
		}
		n--
		if n == 0 {
			delete(m, f)
			clear |= f
			return
		}
		m[f] = n
	})
	if len(m) == 0 {
		delete(s.pending, id)
	}
	return clear
}

// optimistic runs op against a scratch copy of the merged view. On success
// its changes become overrides and msg is sent. The returned result carries
// the undo entry, if any.
func (s *Session) optimistic(op func(t *store.Tree) (mutate.Result, error), t protocol.Type, payload any) (mutate.Result, error) {
	scratch := store.NewTreeFrom(s.View())
	res, err := op(scratch)
	if err != nil || !res.Changed {
		return res, err
	}
	for _, c := range res.Changes {
		switch c.Op {
		case mutate.OpUpdated:
			s.layer.ApplyLocal(c.ID, c.Patch)
			s.expect(c.ID, c.Patch.Fields())
		case mutate.OpAdded:
			s.layer.Provision(*c.Node)
		case mutate.OpRemoved:
			s.layer.Hide(c.ID)
		}
	}
	s.emit(t, "", payload)
	return res, nil
}

func (s *Session) emit(t protocol.Type, requestID string, payload any) {
	m, err := protocol.New(t, requestID, payload)
	if err != nil {
		s.log.Error("encode message", "type", string(t), "error", err)
		return
	}
	s.send(m)
}

func (s *Session) record(e undo.Entry) {
	if e == nil {
		return
	}
	s.hist.Push(e)
	s.emit(protocol.TypeUndoBufferPush, "", protocol.UndoBufferPush{Entry: undo.Record{Entry: e}})
}

func (s *Session) Move(id string, x, y float64) error {
	res, err := s.optimistic(func(t *store.Tree) (mutate.Result, error) {
		return mutate.Move(t, id, x, y)
	}, protocol.TypeNodeMove, protocol.NodeMove{ID: id, X: x, Y: y})
	if err == nil {
		s.record(res.Undo)
	}
	return err
}

func (s *Session) BatchMove(targets []mutate.Target) error {
	return s.batchMove(targets, true)
}

// MoveSubtree moves id and drags every descendant along by the same delta.
func (s *Session) MoveSubtree(id string, x, y float64) error {
	scratch := store.NewTreeFrom(s.View())
	n, ok := scratch.Get(id)
	if !ok {
		return mutate.NotFoundError{Kind: "node", ID: id}
	}
	dx, dy := x-n.X, y-n.Y
	targets := []mutate.Target{{ID: id, X: x, Y: y}}
	for _, d := range mutate.DescendantIDs(scratch, id) {
		if dn, ok := scratch.Get(d); ok {
			targets = append(targets, mutate.Target{ID: d, X: dn.X + dx, Y: dn.Y + dy})
		}
	}
	return s.batchMove(targets, true)
}

func (s *Session) batchMove(targets []mutate.Target, recordUndo bool) error {
	if len(targets) == 0 {
		return nil
	}
	wire := make([]protocol.MoveTarget, len(targets))
	for i, tg := range targets {
		wire[i] = protocol.MoveTarget{ID: tg.ID, X: tg.X, Y: tg.Y}
	}
	res, err := s.optimistic(func(t *store.Tree) (mutate.Result, error) {
		return mutate.BatchMove(t, targets)
	}, protocol.TypeNodeBatchMove, protocol.NodeBatchMove{Moves: wire})
	if err == nil && recordUndo {
		s.record(res.Undo)
	}
	return err
}

func (s *Session) Rename(id, name string) error {
	_, err := s.optimistic(func(t *store.Tree) (mutate.Result, error) {
		return mutate.Rename(t, id, name)
	}, protocol.TypeNodeRename, protocol.NodeRename{ID: id, Name: name})
	return err
}

func (s *Session) SetColor(id, color string) error {
	_, err := s.optimistic(func(t *store.Tree) (mutate.Result, error) {
		return mutate.SetColor(t, id, color)
	}, protocol.TypeNodeSetColor, protocol.NodeSetColor{ID: id, ColorPresetID: color})
	return err
}

func (s *Session) BringToFront(id string) error {
	_, err := s.optimistic(func(t *store.Tree) (mutate.Result, error) {
		return mutate.BringToFront(t, id)
	}, protocol.TypeNodeBringToFront, protocol.NodeBringToFront{ID: id})
	return err
}

func (s *Session) Archive(id string) error {
	return s.archive(id, true)
}

func (s *Session) archive(id string, recordUndo bool) error {
	res, err := s.optimistic(func(t *store.Tree) (mutate.Result, error) {
		r, err := mutate.Archive(t, id, s.now())
		return r.Result, err
	}, protocol.TypeNodeArchive, protocol.NodeArchive{ID: id})
	if err == nil && recordUndo {
		s.record(res.Undo)
	}
	return err
}

func (s *Session) Unarchive(parentID, archivedID string) error {
	return s.unarchive(parentID, archivedID, true)
}

func (s *Session) unarchive(parentID, archivedID string, recordUndo bool) error {
	res, err := s.optimistic(func(t *store.Tree) (mutate.Result, error) {
		r, err := mutate.Unarchive(t, parentID, archivedID)
		return r.Result, err
	}, protocol.TypeNodeUnarchive, protocol.NodeUnarchive{ParentID: parentID, ArchivedID: archivedID})
	if err == nil && recordUndo {
		s.record(res.Undo)
	}
	return err
}

// DeleteArchived permanently drops an archived snapshot. It is not undoable.
func (s *Session) DeleteArchived(parentID, archivedID string) error {
	_, err := s.optimistic(func(t *store.Tree) (mutate.Result, error) {
		r, err := mutate.DeleteArchived(t, parentID, archivedID)
		return r.Result, err
	}, protocol.TypeNodeArchiveDelete, protocol.NodeArchiveDelete{ParentID: parentID, ArchivedID: archivedID})
	return err
}

// Reparent moves id under newParentID. A move that would create a cycle is
// refused locally and nothing is sent.
func (s *Session) Reparent(id, newParentID string) error {
	return s.reparent(id, newParentID, true)
}

func (s *Session) reparent(id, newParentID string, recordUndo bool) error {
	var before model.Node
	res, err := s.optimistic(func(t *store.Tree) (mutate.Result, error) {
		before, _ = t.Get(id)
		r, err := mutate.Reparent(t, id, newParentID)
		return r.Result, err
	}, protocol.TypeNodeReparent, protocol.NodeReparent{ID: id, NewParentID: newParentID})
	if err == nil && res.Changed && recordUndo {
		s.record(undo.Move{Moves: []undo.NodeMove{{
			ID:             id,
			Before:         before.Position(),
			After:          before.Position(),
			BeforeParentID: before.ParentID,
			AfterParentID:  newParentID,
		}}})
	}
	return err
}

// Create asks the server for a new node. It appears once node-added arrives.
func (s *Session) Create(n model.Node) error {
	if n.Payload == nil {
		return mutate.ErrMissingPayload
	}
	s.emit(protocol.TypeNodeCreate, "", protocol.NodeCreate{Node: n})
	return nil
}

// Undo inverts and replays the entry below the cursor. It reports false when
// there is nothing to undo.
func (s *Session) Undo() bool {
	e, ok := s.hist.UndoStep()
	if !ok {
		return false
	}
	s.replay(undo.Invert(e))
	s.emit(protocol.TypeUndoBufferSetCursor, "", protocol.UndoBufferSetCursor{Cursor: s.hist.Cursor()})
	s.confirm.Show(e, undo.DirectionUndo)
	return true
}

func (s *Session) Redo() bool {
	e, ok := s.hist.RedoStep()
	if !ok {
		return false
	}
	s.replay(e)
	s.emit(protocol.TypeUndoBufferSetCursor, "", protocol.UndoBufferSetCursor{Cursor: s.hist.Cursor()})
	s.confirm.Show(e, undo.DirectionRedo)
	return true
}

// replay applies e through the normal mutation path without recording it.
// Steps whose targets have vanished or whose structure no longer permits
// them are skipped, since the tree may have changed since e was recorded.
func (s *Session) replay(e undo.Entry) {
	switch v := e.(type) {
	case undo.Move:
		var targets []mutate.Target
		for _, m := range v.Moves {
			n, ok := s.Node(m.ID)
			if !ok {
				continue
			}
			if m.AfterParentID != "" && m.AfterParentID != n.ParentID {
				s.skip(s.reparent(m.ID, m.AfterParentID, false), "reparent", m.ID)
			}
			targets = append(targets, mutate.Target{ID: m.ID, X: m.After.X, Y: m.After.Y})
		}
		s.skip(s.batchMove(targets, false), "move", "")
	case undo.Archive:
		if _, ok := s.Node(v.NodeID); ok {
			s.skip(s.archive(v.NodeID, false), "archive", v.NodeID)
		}
	case undo.Unarchive:
		if err := s.unarchive(v.ParentID, v.NodeID, false); err != nil {
			s.skip(err, "unarchive", v.NodeID)
			return
		}
		for _, childID := range v.RestoreChildIDs {
			child, ok := s.Node(childID)
			if !ok || child.ParentID != v.ParentID {
				continue
			}
			s.skip(s.reparent(childID, v.NodeID, false), "restore child", childID)
		}
	}
}

func (s *Session) skip(err error, step, id string) {
	if err == nil {
		return
	}
	var nf mutate.NotFoundError
	var cyc mutate.CycleError
	if errors.As(err, &nf) || errors.As(err, &cyc) || errors.Is(err, mutate.ErrArchivedNotFound) {
		s.log.Debug("replay step skipped", "step", step, "node", id, "error", err)
		return
	}
	s.log.Warn("replay step failed", "step", step, "node", id, "error", err)
}

// Focus records the focused node so navigation can resume near it if it
// disappears.
func (s *Session) Focus(id string) {
	s.focusID = id
	s.focusCreatedAt = time.Time{}
	if n, ok := s.Node(id); ok {
		if term, ok := n.Payload.(*model.Terminal); ok {
			s.focusCreatedAt = term.CreatedAt
		}
	}
}

// FocusAdjacent moves focus to the next Claude terminal in dir.
func (s *Session) FocusAdjacent(dir priority.Direction) (string, bool) {
	list := priority.FromNodes(s.View().Nodes)
	e, ok := priority.Adjacent(list, s.focusID, s.focusCreatedAt, dir)
	if !ok {
		return "", false
	}
	s.focusID, s.focusCreatedAt = e.ID, e.CreatedAt
	return e.ID, true
}

// FocusMostUrgent moves focus to the highest-priority Claude terminal.
func (s *Session) FocusMostUrgent() (string, bool) {
	e, ok := priority.HighestPriority(priority.FromNodes(s.View().Nodes))
	if !ok {
		return "", false
	}
	s.focusID, s.focusCreatedAt = e.ID, e.CreatedAt
	return e.ID, true
}
