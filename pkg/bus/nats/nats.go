// Package nats 提供基于NATS的总线实现
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chenxilol/echohub/internal/metrics"
	"github.com/chenxilol/echohub/pkg/bus"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishErrorsCounter = promauto.With(metrics.GetRegistry()).NewCounter(prometheus.CounterOpts{
		Name: "echohub_bus_nats_publish_errors_total",
		Help: "NATS总线发布错误总数",
	})
	reconnectsCounter = promauto.With(metrics.GetRegistry()).NewCounter(prometheus.CounterOpts{
		Name: "echohub_bus_nats_reconnects_total",
		Help: "NATS总线重连次数",
	})
)

// Config NATS连接配置选项
type Config struct {
	// 连接地址，例如 nats://localhost:4222
	URLs []string `mapstructure:"urls"`

	// 连接名称，用于标识客户端
	Name string `mapstructure:"name"`

	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects"` // -1表示无限重连
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// 发布超时：core模式下为flush超时，JetStream模式下为等待PubAck的超时
	OpTimeout time.Duration `mapstructure:"op_timeout"`

	UseJetStream bool          `mapstructure:"use_jetstream"`
	StreamName   string        `mapstructure:"stream_name"`
	Subjects     []string      `mapstructure:"subjects"`
	Retention    time.Duration `mapstructure:"retention"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		URLs:           []string{nats.DefaultURL},
		Name:           "echohub-relay",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
		OpTimeout:      time.Second,
		StreamName:     "ECHOHUB",
		Subjects:       []string{"echohub.>"},
		Retention:      time.Hour,
	}
}

// NatsBus 基于NATS的总线实现
type NatsBus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	cfg    Config
	mu     sync.RWMutex
	closed bool
}

// New 连接NATS，开启JetStream时确保流存在
func New(cfg Config) (*NatsBus, error) {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultConfig().OpTimeout
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			reconnectsCounter.Inc()
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("nats connection closed")
		}),
	}

	serverURL := nats.DefaultURL
	if len(cfg.URLs) > 0 {
		// 多个地址时客户端会依次尝试
		serverURL = strings.Join(cfg.URLs, ",")
	}

	nc, err := nats.Connect(serverURL, opts...)
	if err != nil {
		return nil, err
	}

	nb := &NatsBus{conn: nc, cfg: cfg}

	if cfg.UseJetStream {
		if err := nb.setupJetStream(); err != nil {
			nc.Close()
			return nil, err
		}
	}

	slog.Info("connected to nats", "urls", cfg.URLs, "jetstream", cfg.UseJetStream)
	return nb, nil
}

func (n *NatsBus) setupJetStream() error {
	js, err := n.conn.JetStream()
	if err != nil {
		return err
	}

	_, err = js.StreamInfo(n.cfg.StreamName)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     n.cfg.StreamName,
			Subjects: n.cfg.Subjects,
			MaxAge:   n.cfg.Retention,
		})
		if err == nil {
			slog.Info("created jetstream stream", "name", n.cfg.StreamName, "subjects", n.cfg.Subjects)
		}
	}
	if err != nil {
		return err
	}

	n.js = js
	return nil
}

// Publish 发布消息；core模式下flush确认已写到服务器，JetStream模式下等待PubAck
func (n *NatsBus) Publish(ctx context.Context, topic string, data []byte) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	publishCtx, cancel := context.WithTimeout(ctx, n.cfg.OpTimeout)
	defer cancel()

	var err error
	if n.js != nil {
		_, err = n.js.Publish(topic, data, nats.Context(publishCtx))
	} else if err = n.conn.Publish(topic, data); err == nil {
		err = n.conn.FlushWithContext(publishCtx)
	}

	if err != nil {
		publishErrorsCounter.Inc()
		slog.Warn("nats publish failed", "topic", topic, "error", err)
		return fmt.Errorf("%w: %v", bus.ErrPublishFailed, err)
	}
	return nil
}

// Close 关闭NATS连接
func (n *NatsBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
	return nil
}

var _ bus.Publisher = (*NatsBus)(nil)
