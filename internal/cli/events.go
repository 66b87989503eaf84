package cli

import (
	"github.com/spf13/cobra"

	"canvas-sync/internal/store"
)

func newEventsCmd(app *App) *cobra.Command {
	var (
		limit  int
		nodeID string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List accepted mutations from the local event log (oldest first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := app.cfg.StoreDir()
			if err != nil {
				return writeErr(cmd, err)
			}
			evs, err := (store.Store{Dir: dir}).ReadEvents(cmd.Context(), nodeID, limit)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": evs})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "Max events to return (0 = all)")
	cmd.Flags().StringVar(&nodeID, "node", "", "Only events for this node id")
	return cmd
}
