package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/printforge/moonbridge/internal/rpc"
)

// newProbeCommand issues a single RPC against a daemon and prints the result.
// Useful for checking connectivity without a config file.
func newProbeCommand() *cobra.Command {
	var urlFlag string
	var timeoutFlag time.Duration

	cmd := &cobra.Command{
		Use:   "probe <method> [params-json]",
		Short: "Send a one-shot request to the daemon and print the result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := args[0]
			var params any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("parse params: %w", err)
				}
			}
			return probe(urlFlag, method, params, timeoutFlag)
		},
	}

	cmd.Flags().StringVarP(&urlFlag, "url", "u", "ws://localhost:7125/websocket", "daemon websocket URL")
	cmd.Flags().DurationVarP(&timeoutFlag, "timeout", "t", 10*time.Second, "request timeout")

	return cmd
}

func probe(url, method string, params any, timeout time.Duration) error {
	cfg := rpc.DefaultConfig()
	cfg.MaxReconnectAttempts = 1

	client := rpc.NewClient(cfg, slog.Default())
	defer client.Close()

	if err := client.Connect(url, nil, nil); err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}

	type outcome struct {
		result json.RawMessage
		err    *rpc.RPCError
	}
	done := make(chan outcome, 1)

	client.Send(method, params, func(resp *rpc.Response) {
		done <- outcome{result: resp.Result}
	}, func(err *rpc.RPCError) {
		done <- outcome{err: err}
	}, timeout)

	out := <-done
	if out.err != nil {
		return fmt.Errorf("%s: %w", method, out.err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out.result, "", "  "); err != nil {
		fmt.Println(string(out.result))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
