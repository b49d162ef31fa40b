package command

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var (
		token   string
		declare bool
		pretty  bool
		count   int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Register as a dashboard and print every payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			role := ""
			if declare {
				role = "consumer"
			}
			conn, err := root.dial(ctx, role)
			if err != nil {
				return err
			}
			defer closeGracefully(conn)

			if !declare {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(token)); err != nil {
					return fmt.Errorf("send ready token: %w", err)
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s\n", root.url)

			// Unblock ReadMessage when the context is cancelled.
			go func() {
				<-ctx.Done()
				_ = conn.Close()
			}()

			received := 0
			for count <= 0 || received < count {
				_, data, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return fmt.Errorf("read: %w", err)
				}
				received++

				if pretty {
					var buf bytes.Buffer
					if json.Indent(&buf, data, "", "  ") == nil {
						data = buf.Bytes()
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "DASHBOARD_READY", "ready token sent after connecting")
	cmd.Flags().BoolVar(&declare, "declare-role", false, "declare the consumer role in the URL instead of sending the token")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many payloads (0 = run until interrupted)")
	return cmd
}
