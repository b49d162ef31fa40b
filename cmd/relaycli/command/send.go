package command

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newSendCmd(root *rootOptions) *cobra.Command {
	var (
		interval time.Duration
		declare  bool
		raw      bool
	)

	cmd := &cobra.Command{
		Use:   "send [payload...]",
		Short: "Connect as a device and send JSON payloads",
		Long: `Send each argument as one message. Without arguments, each non-empty line of
standard input is sent as one message.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			payloads := args
			if len(payloads) == 0 {
				var err error
				if payloads, err = readLines(cmd); err != nil {
					return err
				}
			}
			if len(payloads) == 0 {
				return fmt.Errorf("nothing to send")
			}
			if !raw {
				for i, p := range payloads {
					if !json.Valid([]byte(p)) {
						return fmt.Errorf("payload %d is not valid JSON (use --raw to send anyway): %q", i+1, p)
					}
				}
			}

			role := ""
			if declare {
				role = "producer"
			}
			conn, err := root.dial(ctx, role)
			if err != nil {
				return err
			}
			defer closeGracefully(conn)

			for i, p := range payloads {
				if i > 0 && interval > 0 {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(interval):
					}
				}
				if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
					return fmt.Errorf("send payload %d: %w", i+1, err)
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Sent %d payload(s) to %s\n", len(payloads), root.url)
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between payloads")
	cmd.Flags().BoolVar(&declare, "declare-role", false, "declare the producer role in the URL")
	cmd.Flags().BoolVar(&raw, "raw", false, "skip local JSON validation")
	return cmd
}

func readLines(cmd *cobra.Command) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return lines, nil
}
