// Package server is the single writer of canonical tree state. It applies
// mutation messages, broadcasts the resulting push events to every
// connected client and persists state and history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"canvas-sync/internal/model"
	"canvas-sync/internal/mutate"
	"canvas-sync/internal/protocol"
	"canvas-sync/internal/store"
	"canvas-sync/internal/undo"
)

type Config struct {
	Addr string
	// Store enables persistence. A zero Dir keeps state in memory only.
	Store        store.Store
	UndoCapacity int
	SaveDebounce time.Duration
	Logger       *slog.Logger
}

type Server struct {
	cfg   Config
	log   *slog.Logger
	saver *store.DebouncedSaver
	now   func() time.Time

	orderMu sync.Mutex

	mu   sync.Mutex
	tree *store.Tree
	// hists holds one undo log per client id. Cursors sent by a client index
	// its own log only.
	hists map[string]*undo.Log

	clientsMu sync.Mutex
	clients   map[*client]struct{}
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		tree:    store.NewTree(),
		hists:   map[string]*undo.Log{},
		clients: map[*client]struct{}{},
	}
	if s.persistent() {
		st, hists, ok, err := cfg.Store.LoadState(ctx)
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if ok {
			s.tree.Replace(st)
			for clientID, h := range hists {
				s.histFor(clientID).Restore(h)
			}
			if err := mutate.CheckAcyclic(s.tree); err != nil {
				return nil, fmt.Errorf("load state: %w", err)
			}
			log.Info("state loaded", "dir", cfg.Store.Dir, "nodes", s.tree.Len(), "version", s.tree.Version())
		}
		s.saver = store.NewDebouncedSaver(store.DebouncedSaverOpts{
			Store:    cfg.Store,
			Debounce: cfg.SaveDebounce,
			Snapshot: s.persisted,
			Logger:   log,
		})
	}
	treeNodes.Set(float64(s.tree.Len()))
	return s, nil
}

func (s *Server) persistent() bool { return strings.TrimSpace(s.cfg.Store.Dir) != "" }

func (s *Server) Addr() string { return strings.TrimSpace(s.cfg.Addr) }

// histFor returns clientID's undo log, creating it on first use. Callers
// hold s.mu, except during New.
func (s *Server) histFor(clientID string) *undo.Log {
	h, ok := s.hists[clientID]
	if !ok {
		h = undo.NewLog(s.cfg.UndoCapacity)
		s.hists[clientID] = h
	}
	return h
}

func (s *Server) persisted() (model.ServerState, map[string]undo.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hists := make(map[string]undo.Snapshot, len(s.hists))
	for clientID, h := range s.hists {
		if h.Len() > 0 {
			hists[clientID] = h.Snapshot()
		}
	}
	return s.tree.Snapshot(), hists
}

func (s *Server) syncResponse(clientID string) protocol.NodeSyncResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.NodeSyncResponse{State: s.tree.Snapshot(), Undo: s.histFor(clientID).Snapshot()}
}

// State returns a copy of the canonical state.
func (s *Server) State() model.ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Snapshot()
}

// History returns a copy of clientID's undo history.
func (s *Server) History(clientID string) undo.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hists[clientID]; ok {
		return h.Snapshot()
	}
	return undo.Snapshot{Entries: []undo.Record{}}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := protocol.NodeSyncResponse{
		State: s.State(),
		Undo:  s.History(strings.TrimSpace(r.URL.Query().Get("client"))),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Run serves until ctx is done, then shuts down and flushes pending saves.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", "addr", ln.Addr().String())
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeClients()
		return hs.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	if ferr := s.Flush(context.Background()); ferr != nil {
		s.log.Error("final save", "error", ferr)
	}
	return err
}

// Flush writes any pending state immediately.
func (s *Server) Flush(ctx context.Context) error {
	return s.saver.Flush(ctx)
}

// Apply handles one inbound message from clientID. It returns the reply for
// the sender (queries only) and the push events for every client. Rejected
// mutations produce neither: the protocol has no rejection channel.
func (s *Server) Apply(clientID string, m protocol.Message) (*protocol.Message, []protocol.Message) {
	log := s.log.With("client", clientID, "type", string(m.Type))
	p, err := protocol.DecodePayload(m)
	if err != nil {
		messagesTotal.WithLabelValues(string(m.Type), "invalid").Inc()
		log.Warn("invalid message", "error", err)
		return nil, nil
	}

	switch v := p.(type) {
	case protocol.ValidatePath:
		res := validatePath(v.Path, m.Type == protocol.TypeValidateDirectory)
		messagesTotal.WithLabelValues(string(m.Type), "applied").Inc()
		return s.reply(protocol.TypeValidateResult, m.RequestID, res), nil
	case protocol.NodeSyncRequest:
		resp := s.syncResponse(clientID)
		messagesTotal.WithLabelValues(string(m.Type), "applied").Inc()
		return s.reply(protocol.TypeNodeSyncResponse, m.RequestID, resp), nil
	}

	if !m.Type.IsMutation() {
		messagesTotal.WithLabelValues(string(m.Type), "invalid").Inc()
		log.Warn("unexpected message from client")
		return nil, nil
	}

	s.mu.Lock()
	res, entityID, err := s.dispatch(clientID, p)
	if err == nil && res.Changed {
		s.tree.BumpVersion()
		treeNodes.Set(float64(s.tree.Len()))
	}
	s.mu.Unlock()

	if err != nil {
		messagesTotal.WithLabelValues(string(m.Type), "rejected").Inc()
		log.Warn("mutation rejected", "node", entityID, "error", err)
		return nil, nil
	}
	if !res.Changed {
		messagesTotal.WithLabelValues(string(m.Type), "noop").Inc()
		return nil, nil
	}
	messagesTotal.WithLabelValues(string(m.Type), "applied").Inc()
	log.Debug("mutation applied", "node", entityID, "changes", len(res.Changes))

	if s.persistent() {
		if err := s.cfg.Store.AppendEvent(context.Background(), clientID, string(m.Type), entityID, res.EventPayload); err != nil {
			log.Error("append event", "error", err)
		}
		s.saver.Notify()
	}
	return nil, s.pushes(res.Changes)
}

func (s *Server) reply(t protocol.Type, requestID string, payload any) *protocol.Message {
	out, err := protocol.New(t, requestID, payload)
	if err != nil {
		s.log.Error("encode reply", "type", string(t), "error", err)
		return nil
	}
	return &out
}

// dispatch runs one mutation from clientID against the tree or that client's
// undo log. Callers hold s.mu.
func (s *Server) dispatch(clientID string, p any) (mutate.Result, string, error) {
	switch v := p.(type) {
	case protocol.NodeMove:
		r, err := mutate.Move(s.tree, v.ID, v.X, v.Y)
		return r, v.ID, err
	case protocol.NodeBatchMove:
		targets := make([]mutate.Target, len(v.Moves))
		for i, mv := range v.Moves {
			targets[i] = mutate.Target{ID: mv.ID, X: mv.X, Y: mv.Y}
		}
		r, err := mutate.BatchMove(s.tree, targets)
		return r, targets[0].ID, err
	case protocol.NodeRename:
		r, err := mutate.Rename(s.tree, v.ID, v.Name)
		return r, v.ID, err
	case protocol.NodeSetColor:
		r, err := mutate.SetColor(s.tree, v.ID, v.ColorPresetID)
		return r, v.ID, err
	case protocol.NodeArchive:
		r, err := mutate.Archive(s.tree, v.ID, s.now())
		return r.Result, v.ID, err
	case protocol.NodeUnarchive:
		r, err := mutate.Unarchive(s.tree, v.ParentID, v.ArchivedID)
		return r.Result, v.ArchivedID, err
	case protocol.NodeArchiveDelete:
		r, err := mutate.DeleteArchived(s.tree, v.ParentID, v.ArchivedID)
		return r.Result, v.ArchivedID, err
	case protocol.NodeBringToFront:
		r, err := mutate.BringToFront(s.tree, v.ID)
		return r, v.ID, err
	case protocol.NodeReparent:
		r, err := mutate.Reparent(s.tree, v.ID, v.NewParentID)
		return r.Result, v.ID, err
	case protocol.NodeCreate:
		var name string
		if v.Node.Name != nil {
			name = *v.Node.Name
		}
		r, err := mutate.Create(s.tree, mutate.CreateParams{
			ParentID: v.Node.ParentID,
			X:        v.Node.X,
			Y:        v.Node.Y,
			Name:     name,
			Payload:  v.Node.Payload,
		})
		return r.Result, r.Node.ID, err
	case protocol.UndoBufferPush:
		h := s.histFor(clientID)
		h.Push(v.Entry.Entry)
		return historyChanged(h), "undo", nil
	case protocol.UndoBufferSetCursor:
		h := s.histFor(clientID)
		before := h.Cursor()
		h.SetCursor(v.Cursor)
		if h.Cursor() == before {
			return mutate.Result{}, "undo", nil
		}
		return historyChanged(h), "undo", nil
	default:
		return mutate.Result{}, "", fmt.Errorf("%w: %T", protocol.ErrUnknownType, p)
	}
}

// historyChanged marks an undo-buffer update as applied. It produces no tree
// changes and so no pushes.
func historyChanged(h *undo.Log) mutate.Result {
	return mutate.Result{
		Changed:      true,
		EventPayload: map[string]any{"cursor": h.Cursor(), "len": h.Len()},
	}
}

func (s *Server) pushes(changes []mutate.Change) []protocol.Message {
	out := make([]protocol.Message, 0, len(changes))
	for _, c := range changes {
		var (
			m   protocol.Message
			err error
		)
		switch c.Op {
		case mutate.OpUpdated:
			m, err = protocol.New(protocol.TypeNodeUpdated, "", protocol.NodeUpdated{ID: c.ID, Patch: c.Patch})
		case mutate.OpAdded:
			m, err = protocol.New(protocol.TypeNodeAdded, "", protocol.NodeAdded{Node: *c.Node})
		case mutate.OpRemoved:
			m, err = protocol.New(protocol.TypeNodeRemoved, "", protocol.NodeRemoved{ID: c.ID})
		default:
			continue
		}
		if err != nil {
			s.log.Error("encode push", "node", c.ID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out
}
