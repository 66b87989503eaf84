package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"canvas-sync/internal/client"
	"canvas-sync/internal/model"
)

func newNodeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Edit nodes through the optimistic client session",
	}

	var subtree bool
	moveCmd := &cobra.Command{
		Use:   "move <id> <x> <y>",
		Short: "Move a node (with --subtree, drag its descendants along)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return writeErr(cmd, err)
			}
			y, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return writeErr(cmd, err)
			}
			return runNode(cmd, app, func(s *client.Session) error {
				if subtree {
					return s.MoveSubtree(args[0], x, y)
				}
				return s.Move(args[0], x, y)
			}, args[0])
		},
	}
	moveCmd.Flags().BoolVar(&subtree, "subtree", false, "Move descendants by the same delta")

	renameCmd := &cobra.Command{
		Use:   "rename <id> [name]",
		Short: "Rename a node (no name clears it)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			return runNode(cmd, app, func(s *client.Session) error { return s.Rename(args[0], name) }, args[0])
		},
	}

	colorCmd := &cobra.Command{
		Use:   "color <id> <preset>",
		Short: "Set a color preset (inherit follows the parent)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd, app, func(s *client.Session) error { return s.SetColor(args[0], args[1]) }, args[0])
		},
	}

	frontCmd := &cobra.Command{
		Use:   "front <id>",
		Short: "Bring a node to the front",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd, app, func(s *client.Session) error { return s.BringToFront(args[0]) }, args[0])
		},
	}

	archiveCmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a node; its children move up to its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd, app, func(s *client.Session) error { return s.Archive(args[0]) }, args[0])
		},
	}

	unarchiveCmd := &cobra.Command{
		Use:   "unarchive <parent-id> <archived-id>",
		Short: "Restore an archived node under its parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd, app, func(s *client.Session) error { return s.Unarchive(args[0], args[1]) }, args[1])
		},
	}

	deleteArchivedCmd := &cobra.Command{
		Use:   "delete-archived <parent-id> <archived-id>",
		Short: "Permanently delete an archived snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd, app, func(s *client.Session) error { return s.DeleteArchived(args[0], args[1]) }, args[0])
		},
	}

	reparentCmd := &cobra.Command{
		Use:   "reparent <id> <new-parent-id>",
		Short: "Move a node under a new parent (refused if it would create a cycle)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd, app, func(s *client.Session) error { return s.Reparent(args[0], args[1]) }, args[0])
		},
	}

	var (
		parentID string
		x, y     float64
		name     string
	)
	createCmd := &cobra.Command{
		Use:   "create <title|markdown|directory|file> <text|content|path>",
		Short: "Create a node; the server assigns its id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := model.Node{ParentID: parentID, X: x, Y: y}
			if strings.TrimSpace(name) != "" {
				n.Name = &name
			}
			switch model.Kind(args[0]) {
			case model.KindTitle:
				n.Payload = &model.Title{Text: args[1]}
			case model.KindMarkdown:
				n.Payload = &model.Markdown{Content: args[1]}
			case model.KindDirectory:
				n.Payload = &model.Directory{Cwd: args[1]}
			case model.KindFile:
				n.Payload = &model.File{Path: args[1]}
			default:
				return writeErr(cmd, model.ErrUnknownKind)
			}
			return runNode(cmd, app, func(s *client.Session) error { return s.Create(n) })
		},
	}
	createCmd.Flags().StringVar(&parentID, "parent", model.RootID, "Parent node id")
	createCmd.Flags().Float64Var(&x, "x", 0, "X position")
	createCmd.Flags().Float64Var(&y, "y", 0, "Y position")
	createCmd.Flags().StringVar(&name, "name", "", "Display name")

	cmd.AddCommand(moveCmd, renameCmd, colorCmd, frontCmd, archiveCmd, unarchiveCmd, deleteArchivedCmd, reparentCmd, createCmd)
	return cmd
}

func runNode(cmd *cobra.Command, app *App, fn func(s *client.Session) error, ids ...string) error {
	out, err := withSession(cmd, app, fn, ids...)
	if err != nil {
		return writeErr(cmd, err)
	}
	return writeOut(cmd, app, map[string]any{"data": out})
}

func newUndoCmd(app *App, redo bool) *cobra.Command {
	use, short := "undo", "Undo the last structural change in this client's history"
	if redo {
		use, short = "redo", "Redo the next structural change in this client's history"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			stepped := false
			out, err := withSession(cmd, app, func(s *client.Session) error {
				if redo {
					stepped = s.Redo()
				} else {
					stepped = s.Undo()
				}
				return nil
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			out["stepped"] = stepped
			return writeOut(cmd, app, map[string]any{"data": out})
		},
	}
}
