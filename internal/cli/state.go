package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"canvas-sync/internal/client"
	"canvas-sync/internal/format"
	"canvas-sync/internal/model"
	"canvas-sync/internal/store"
	"canvas-sync/internal/undo"
)

// loadState fetches the document from the running server, or from the store
// dir when local is set.
func loadState(cmd *cobra.Command, app *App, local bool) (model.ServerState, undo.Snapshot, error) {
	if local {
		dir, err := app.cfg.StoreDir()
		if err != nil {
			return model.ServerState{}, undo.Snapshot{}, err
		}
		st, hists, ok, err := (store.Store{Dir: dir}).LoadState(cmd.Context())
		if err != nil {
			return model.ServerState{}, undo.Snapshot{}, err
		}
		if !ok {
			return model.ServerState{}, undo.Snapshot{}, errors.New("no saved state in " + dir)
		}
		hist, ok := hists[app.cfg.ClientID]
		if !ok {
			hist = undo.Snapshot{Entries: []undo.Record{}}
		}
		return st, hist, nil
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	k, err := dial(ctx, app, nil)
	if err != nil {
		return model.ServerState{}, undo.Snapshot{}, err
	}
	defer k.Close()
	var st model.ServerState
	var hist undo.Snapshot
	err = k.c.Do(ctx, func(s *client.Session) error {
		st = s.View()
		hist = s.History().Snapshot()
		return nil
	})
	return st, hist, err
}

func newStateCmd(app *App) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the full document state and undo buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, hist, err := loadState(cmd, app, local)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"state": st, "undo": hist}})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Read the saved state from the store dir instead of the server")
	return cmd
}

func newTreeCmd(app *App) *cobra.Command {
	var (
		local    bool
		archived bool
		content  bool
		width    int
	)

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Render the node tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := loadState(cmd, app, local)
			if err != nil {
				return writeErr(cmd, err)
			}
			return format.WriteTree(cmd.OutOrStdout(), st, format.TreeOpts{
				Archived: archived,
				Content:  content,
				Width:    width,
			})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Read the saved state from the store dir instead of the server")
	cmd.Flags().BoolVar(&archived, "archived", false, "Show archived snapshots")
	cmd.Flags().BoolVar(&content, "content", false, "Render markdown node bodies")
	cmd.Flags().IntVar(&width, "width", 80, "Wrap width for rendered content")
	return cmd
}
