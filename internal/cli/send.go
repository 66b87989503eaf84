package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"canvas-sync/internal/protocol"
)

func newSendCmd(app *App) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send <type> [payload-json]",
		Short: "Send one raw protocol message and print what comes back",
		Long: strings.TrimSpace(`
Send one protocol message exactly as a UI client would, then print every
message received during --wait. The payload is validated locally first.

Mutations are fire-and-forget: a rejected mutation produces no reply and no
push events.
`),
		Example: strings.TrimSpace(`
canvas send node-archive '{"id":"node-a1b2c3d4"}'
canvas send node-sync-request --wait 1s
`),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := protocol.Message{Type: protocol.Type(strings.TrimSpace(args[0]))}
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return writeErr(cmd, fmt.Errorf("payload is not valid JSON"))
				}
				m.Payload = json.RawMessage(args[1])
			}
			if _, err := protocol.DecodePayload(m); err != nil {
				return writeErr(cmd, err)
			}
			if !m.Type.IsMutation() {
				m.RequestID = uuid.NewString()
			}

			var (
				mu       sync.Mutex
				received []protocol.Message
				armed    bool
			)
			ctx, cancel := signalContext(cmd)
			defer cancel()
			k, err := dial(ctx, app, func(in protocol.Message) {
				mu.Lock()
				defer mu.Unlock()
				if armed {
					received = append(received, in)
				}
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			defer k.Close()

			mu.Lock()
			armed = true
			mu.Unlock()
			if err := k.c.Send(ctx, m); err != nil {
				return writeErr(cmd, err)
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}

			mu.Lock()
			defer mu.Unlock()
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"sent": m, "received": received}})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 500*time.Millisecond, "How long to collect replies and push events")
	return cmd
}

func newValidatePathCmd(app *App) *cobra.Command {
	var file bool

	cmd := &cobra.Command{
		Use:   "validate-path <path>",
		Short: "Ask the server whether a directory (or --file) exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			k, err := dial(ctx, app, nil)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer k.Close()

			var res protocol.ValidateResult
			if file {
				res = k.c.ValidateFile(ctx, args[0])
			} else {
				res = k.c.ValidateDirectory(ctx, args[0])
			}
			return writeOut(cmd, app, map[string]any{"data": res})
		},
	}
	cmd.Flags().BoolVar(&file, "file", false, "Validate a regular file instead of a directory")
	return cmd
}
