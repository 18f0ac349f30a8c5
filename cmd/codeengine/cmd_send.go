package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeengine/endpoint"
	"github.com/lexcodex/codeengine/framework"
	"github.com/lexcodex/codeengine/server"
)

// replyTerminators end multi-line replies.
var replyTerminators = map[string]bool{
	"end-of-find-types": true,
	"end-of-get-files":  true,
}

func newSendCmd() *cobra.Command {
	var addr string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "send <command...>",
		Short: "Send a command to a running engine over its command port",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			target, err := commandAddr(addr, "", cfg.EditorKey)
			if err != nil {
				return err
			}
			client, err := endpoint.Dial(cmd.Context(), target)
			if err != nil {
				return err
			}
			defer client.Close()
			text := endpoint.CommandMessage{Command: args[0], Arguments: args[1:]}.String()
			if err := client.Send(text); err != nil {
				return err
			}
			if wait <= 0 {
				return nil
			}
			return printReplies(cmd, client, wait)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Command port address (found via instance files when empty)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Print replies until one is idle for this long")
	return cmd
}

func printReplies(cmd *cobra.Command, client *endpoint.Client, idle time.Duration) error {
	for {
		reply, err := client.Receive(idle)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		if replyTerminators[reply] {
			return nil
		}
	}
}

func newEventsCmd() *cobra.Command {
	var tcpAddr string
	cmd := &cobra.Command{
		Use:   "events [pattern]",
		Short: "Tail published events, optionally filtered by a * and ? pattern",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			show := func(body string) {
				if framework.MatchPattern(pattern, body) {
					fmt.Fprintln(cmd.OutOrStdout(), body)
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if tcpAddr != "" {
				return tailEventPort(ctx, tcpAddr, show)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			addr, err := apiAddr(cfg)
			if err != nil {
				return err
			}
			return server.NewClient(addr).Events(ctx, show)
		},
	}
	cmd.Flags().StringVar(&tcpAddr, "tcp", "", "Read from the TCP event port instead of the HTTP API")
	return cmd
}

func tailEventPort(ctx context.Context, addr string, fn func(string)) error {
	client, err := endpoint.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()
	go func() {
		<-ctx.Done()
		_ = client.Close()
	}()
	for {
		body, err := client.Receive(0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(strings.TrimSpace(body))
	}
}
