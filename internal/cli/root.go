package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"canvas-sync/internal/config"
	"canvas-sync/internal/format"
)

type App struct {
	Dir        string
	Addr       string
	ClientID   string
	PrettyJSON bool
	Format     string

	cfg config.Config
	log *slog.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "canvas",
		Short:        "Canvas node-tree sync server and client",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Run the sync server
  canvas serve

  # Print the live tree from a running server
  canvas tree --archived

  # Issue a raw protocol message, as automation sockets do
  canvas send node-move '{"id":"node-a1b2c3d4","x":120,"y":40}'
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return writeErr(cmd, err)
		}
		if d := strings.TrimSpace(app.Dir); d != "" {
			cfg.Dir = d
		}
		if a := strings.TrimSpace(app.Addr); a != "" {
			cfg.Addr = a
		}
		if c := strings.TrimSpace(app.ClientID); c != "" {
			cfg.ClientID = c
		}
		level, err := config.ParseLevel(cfg.LogLevel)
		if err != nil {
			return writeErr(cmd, err)
		}
		app.cfg = cfg
		app.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		slog.SetDefault(app.log)
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.Dir, "dir", envOr("CANVAS_DIR", ""), "Path to store dir (default: ~/.canvas)")
	cmd.PersistentFlags().StringVar(&app.Addr, "addr", envOr("CANVAS_ADDR", ""), "Server address (host:port or ws:// URL)")
	cmd.PersistentFlags().StringVar(&app.ClientID, "client", "", "Client id that owns the undo history (default: cli)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print JSON output")
	cmd.PersistentFlags().StringVar(&app.Format, "format", envOr("CANVAS_FORMAT", "json"), "Output format (json|edn)")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newStateCmd(app))
	cmd.AddCommand(newTreeCmd(app))
	cmd.AddCommand(newSendCmd(app))
	cmd.AddCommand(newValidatePathCmd(app))
	cmd.AddCommand(newEventsCmd(app))
	cmd.AddCommand(newDocsCmd(app))
	cmd.AddCommand(newNodeCmd(app))
	cmd.AddCommand(newUndoCmd(app, false))
	cmd.AddCommand(newUndoCmd(app, true))

	return cmd
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.PrettyJSON)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
