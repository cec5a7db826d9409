// Package relay 把连接器收到的频道事件转发到消息总线
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/chenxilol/echohub/internal/metrics"
	"github.com/chenxilol/echohub/pkg/bus"
	"github.com/chenxilol/echohub/pkg/connector"
)

// Config 转发配置
type Config struct {
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

func DefaultConfig() Config {
	return Config{
		TopicPrefix:    "echohub.",
		PublishTimeout: 2 * time.Second,
	}
}

// Relay 转发器，监听回调中同步发布，发布失败只记录日志和指标
type Relay struct {
	pub      bus.Publisher
	cfg      Config
	socketID func() string
}

// New 创建转发器；socketID用于在信封中记录来源连接，可以为nil
func New(pub bus.Publisher, cfg Config, socketID func() string) *Relay {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Relay{pub: pub, cfg: cfg, socketID: socketID}
}

// Topic 频道事件对应的总线主题：<prefix><channel>.<event>
func (r *Relay) Topic(channel, event string) string {
	return r.cfg.TopicPrefix + channel + "." + event
}

// Attach 为频道上的每个事件注册转发监听
func (r *Relay) Attach(ch *connector.Channel, events ...string) {
	for _, event := range events {
		ch.Listen(event, r.Listener(event))
	}
}

// Listener 返回转发指定事件的监听回调，可以直接交给Listen或与其他回调组合
func (r *Relay) Listener(event string) connector.Listener {
	return func(channel string, payload json.RawMessage) {
		r.Forward(channel, event, payload)
	}
}

// Forward 发布一条事件
func (r *Relay) Forward(channel, event string, payload json.RawMessage) {
	var socketID string
	if r.socketID != nil {
		socketID = r.socketID()
	}

	env := bus.NewEnvelope(channel, event, socketID, payload)
	data, err := env.Marshal()
	if err != nil {
		metrics.RelayPublishError()
		slog.Error("failed to marshal relay envelope", "channel", channel, "event", event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PublishTimeout)
	defer cancel()

	topic := r.Topic(channel, event)
	if err := r.pub.Publish(ctx, topic, data); err != nil {
		metrics.RelayPublishError()
		slog.Warn("relay publish failed", "topic", topic, "error", err)
		return
	}

	metrics.RelayPublished()
	slog.Debug("event relayed", "topic", topic, "id", env.ID)
}

// Close 关闭底层总线
func (r *Relay) Close() error {
	return r.pub.Close()
}
