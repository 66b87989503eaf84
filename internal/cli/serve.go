package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"canvas-sync/internal/server"
	"canvas-sync/internal/store"
)

func newServeCmd(app *App) *cobra.Command {
	var memory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authoritative sync server",
		Long: strings.TrimSpace(`
Run the sync server. Clients connect over a websocket at /ws; the server also
exposes /state, /healthz and /metrics.

State and the undo buffer are saved to SQLite in the store dir, and every
accepted mutation is appended to the event log.
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st store.Store
			if !memory {
				dir, err := app.cfg.StoreDir()
				if err != nil {
					return writeErr(cmd, err)
				}
				st = store.Store{Dir: dir}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, server.Config{
				Addr:         app.cfg.Addr,
				Store:        st,
				UndoCapacity: app.cfg.UndoCapacity,
				SaveDebounce: app.cfg.SaveDebounce,
				Logger:       app.log,
			})
			if err != nil {
				return writeErr(cmd, err)
			}

			state, _ := srv.State()
			_ = writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"addr":      srv.Addr(),
					"dir":       st.Dir,
					"nodes":     len(state.Nodes),
					"version":   state.Version,
					"startedAt": time.Now().UTC().Format(time.RFC3339Nano),
				},
				"_hints": []string{
					"canvas --addr " + srv.Addr() + " tree",
				},
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "canvas server listening on ws://%s/ws\n", srv.Addr())

			if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "Keep state in memory only")
	return cmd
}

// signalContext is used by client commands so Ctrl-C aborts a pending wait.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
