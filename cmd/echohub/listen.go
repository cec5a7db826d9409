package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chenxilol/echohub/internal/utils"
	"github.com/chenxilol/echohub/pkg/connector"
	"github.com/chenxilol/echohub/pkg/relay"

	"github.com/spf13/cobra"
)

// printedEvent 输出的一行事件
type printedEvent struct {
	Channel    string          `json:"channel"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// eventPrinter 把事件逐行写成JSON，监听回调可能并发调用
type eventPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{enc: json.NewEncoder(w)}
}

func (p *eventPrinter) print(channel, event string, payload json.RawMessage) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(printedEvent{
		Channel:    channel,
		Event:      event,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}); err != nil {
		slog.Warn("failed to print event", "error", err)
	}
}

func (p *eventPrinter) listener(event string) connector.Listener {
	return func(channel string, payload json.RawMessage) {
		p.print(channel, event, payload)
	}
}

type listenOptions struct {
	public   []string
	private  []string
	presence []string
	events   []string
}

func listenCmd() *cobra.Command {
	var o listenOptions

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Subscribe to channels and print events as JSON lines",
		Example: `  echohub listen --channel news --event NewsPublished
  echohub listen --private orders.7 --presence chat --event .OrderShipped`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(o.public)+len(o.private)+len(o.presence) == 0 {
				return errors.New("at least one of --channel, --private or --presence is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, cmd.OutOrStdout(), o)
		},
	}

	cmd.Flags().StringSliceVar(&o.public, "channel", nil, "公共频道")
	cmd.Flags().StringSliceVar(&o.private, "private", nil, "私有频道（不带private-前缀）")
	cmd.Flags().StringSliceVar(&o.presence, "presence", nil, "在线状态频道（不带presence-前缀）")
	cmd.Flags().StringSliceVar(&o.events, "event", nil, "要监听的事件名")
	return cmd
}

func runListen(ctx context.Context, out io.Writer, o listenOptions) error {
	msrv := serveMetrics(cfg.Metrics.Addr)
	defer shutdownMetrics(msrv)

	pub, err := createPublisher(ctx, cfg.Relay, utils.DefaultBackoff())
	if err != nil {
		return fmt.Errorf("failed to create relay bus: %w", err)
	}

	opts := cfg.ConnectorOptions()
	opts.OnError = func(err error) {
		slog.Warn("connector error", "error", err)
	}
	c := connector.New(opts)

	rl := relay.New(pub, cfg.RelayConfig(), c.SocketID)
	defer rl.Close()

	var forward *relay.Relay
	if cfg.Relay.Enabled {
		forward = rl
	}
	printer := newEventPrinter(out)
	subscribe(c, printer, forward, o)

	if _, err := c.Connect(ctx); err != nil {
		return err
	}
	slog.Info("listening", "channels", c.Channels(), "events", o.events)

	<-ctx.Done()
	return c.Disconnect()
}

// subscribe 注册全部频道的监听；relay为nil时只打印
func subscribe(c *connector.Connector, printer *eventPrinter, rl *relay.Relay, o listenOptions) {
	bind := func(ch *connector.Channel) {
		for _, event := range o.events {
			ch.Listen(event, printer.listener(event))
		}
		if rl != nil {
			rl.Attach(ch, o.events...)
		}
	}

	for _, name := range o.public {
		bind(c.Channel(name))
	}
	for _, name := range o.private {
		bind(c.PrivateChannel(name).Channel)
	}
	for _, name := range o.presence {
		pc := c.PresenceChannel(name)
		pc.Here(func(users []json.RawMessage) {
			roster, _ := json.Marshal(users)
			printer.print(pc.Name(), connector.EventPresenceSubscribed, roster)
		}).Joining(func(user json.RawMessage) {
			printer.print(pc.Name(), connector.EventPresenceJoining, user)
		}).Leaving(func(user json.RawMessage) {
			printer.print(pc.Name(), connector.EventPresenceLeaving, user)
		})
		bind(pc.Channel)
	}
}
