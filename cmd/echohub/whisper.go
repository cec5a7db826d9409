package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chenxilol/echohub/pkg/connector"

	"github.com/spf13/cobra"
)

type whisperOptions struct {
	channel  string
	presence bool
	event    string
	data     string
	timeout  time.Duration
}

func whisperCmd() *cobra.Command {
	var o whisperOptions

	cmd := &cobra.Command{
		Use:     "whisper",
		Short:   "Send a client event to a private or presence channel",
		Example: `  echohub whisper --channel chat.1 --event typing --data '{"user":"ana"}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.channel == "" || o.event == "" {
				return errors.New("--channel and --event are required")
			}
			if !json.Valid([]byte(o.data)) {
				return fmt.Errorf("--data is not valid JSON: %s", o.data)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			c := connector.New(cfg.ConnectorOptions())
			return runWhisper(ctx, c, o)
		},
	}

	cmd.Flags().StringVar(&o.channel, "channel", "", "频道名（不带private-/presence-前缀）")
	cmd.Flags().BoolVar(&o.presence, "presence", false, "发送到presence-频道而不是private-频道")
	cmd.Flags().StringVar(&o.event, "event", "", "事件名（自动加client-前缀）")
	cmd.Flags().StringVar(&o.data, "data", "null", "JSON负载")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 10*time.Second, "等待发送完成的超时")
	return cmd
}

// runWhisper 连接后发送一条客户端事件，等待发送队列清空再断开
func runWhisper(ctx context.Context, c *connector.Connector, o whisperOptions) error {
	data := json.RawMessage(o.data)
	if o.presence {
		c.PresenceChannel(o.channel).Whisper(o.event, data)
	} else {
		c.PrivateChannel(o.channel).Whisper(o.event, data)
	}

	if _, err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()

	if err := waitFlushed(ctx, c); err != nil {
		return fmt.Errorf("whisper not sent: %w", err)
	}
	slog.Info("whisper sent", "channel", o.channel, "event", o.event, "socket_id", c.SocketID())
	return nil
}

// waitFlushed 等待连接就绪且发送队列为空
func waitFlushed(ctx context.Context, c *connector.Connector) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.State() == connector.StateOpen && c.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
