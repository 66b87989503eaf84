package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"canvas-sync/internal/client"
	"canvas-sync/internal/protocol"
)

const syncTimeout = 5 * time.Second

// conn is a short-lived client connection for one CLI command.
type conn struct {
	c    *client.Client
	done chan error
	stop context.CancelFunc
}

// dial connects to the server and waits for the initial sync. onMessage, if
// set, sees every inbound message.
func dial(ctx context.Context, app *App, onMessage func(protocol.Message)) (*conn, error) {
	tr, err := client.DialWebsocket(ctx, app.cfg.Addr, app.cfg.ClientID)
	if err != nil {
		return nil, err
	}
	c := client.New(tr, client.Opts{
		UndoCapacity:    app.cfg.UndoCapacity,
		ConfirmWindow:   app.cfg.ConfirmWindow,
		ValidateTimeout: app.cfg.ValidateTimeout,
		Logger:          app.log,
		OnMessage:       onMessage,
	})
	runCtx, stop := context.WithCancel(ctx)
	k := &conn{c: c, done: make(chan error, 1), stop: stop}
	go func() { k.done <- c.Run(runCtx) }()

	select {
	case <-c.Ready():
		return k, nil
	case err := <-k.done:
		stop()
		if err == nil {
			err = errors.New("connection closed before sync")
		}
		return nil, err
	case <-time.After(syncTimeout):
		k.Close()
		return nil, fmt.Errorf("no sync response from %s", app.cfg.Addr)
	case <-ctx.Done():
		k.Close()
		return nil, ctx.Err()
	}
}

func (k *conn) Close() {
	k.stop()
	<-k.done
}

// withSession runs fn on a fresh connection, then resyncs and returns the
// server's view of ids. confirmed is false when that view differs from the
// optimistic one, which is how a silently declined mutation shows up.
func withSession(cmd *cobra.Command, app *App, fn func(s *client.Session) error, ids ...string) (map[string]any, error) {
	ctx, cancel := signalContext(cmd)
	defer cancel()
	k, err := dial(ctx, app, nil)
	if err != nil {
		return nil, err
	}
	defer k.Close()

	var optimistic map[string]any
	if err := k.c.Do(ctx, func(s *client.Session) error {
		if err := fn(s); err != nil {
			return err
		}
		optimistic = nodesOf(s, ids)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := k.c.Barrier(ctx); err != nil {
		return nil, err
	}

	out := map[string]any{}
	err = k.c.Do(ctx, func(s *client.Session) error {
		nodes := nodesOf(s, ids)
		out["nodes"] = nodes
		out["confirmed"] = sameJSON(optimistic, nodes)
		out["undo"] = map[string]int{"cursor": s.History().Cursor(), "len": s.History().Len()}
		return nil
	})
	if err == nil && out["confirmed"] == false {
		app.log.Warn("server state differs from the optimistic result", "nodes", ids)
	}
	return out, err
}

func nodesOf(s *client.Session, ids []string) map[string]any {
	nodes := map[string]any{}
	for _, id := range ids {
		if n, ok := s.Node(id); ok {
			nodes[id] = n
		} else {
			nodes[id] = nil
		}
	}
	return nodes
}

func sameJSON(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
