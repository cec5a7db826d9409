// Package redis 提供基于Redis PUBLISH的总线实现
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenxilol/echohub/pkg/bus"
	"github.com/redis/go-redis/v9"
)

// Config Redis连接配置选项
type Config struct {
	// 连接地址 (单机模式、集群模式或哨兵模式)
	Addrs []string `mapstructure:"addrs"`

	Password string `mapstructure:"password"`

	// 数据库编号 (仅单机模式和哨兵模式有效)
	DB int `mapstructure:"db"`

	// 哨兵模式的主节点名称
	MasterName string `mapstructure:"master_name"`

	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`

	// 发布超时
	OpTimeout time.Duration `mapstructure:"op_timeout"`

	// 频道名前缀
	KeyPrefix string `mapstructure:"key_prefix"`

	// 模式: single(单机), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode"`
}

func DefaultConfig() Config {
	return Config{
		Addrs:        []string{"localhost:6379"},
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
		OpTimeout:    500 * time.Millisecond,
		KeyPrefix:    "echohub:",
		Mode:         "single",
	}
}

type RedisBus struct {
	client     redis.UniversalClient // 通用客户端接口，兼容单机、哨兵和集群模式
	cfg        Config
	mu         sync.RWMutex
	closed     bool
	reconnects uint64
}

// retryHook 统计重连次数
type retryHook struct {
	bus *RedisBus
}

func (h *retryHook) DialHook(next redis.DialHook) redis.DialHook {
	var failed atomic.Bool
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			failed.Store(true)
			slog.Warn("redis dial failed", "addr", addr, "error", err)
			return nil, err
		}
		// 拨号失败之后的第一次成功记为一次重连
		if failed.Swap(false) {
			h.bus.incReconnects()
		}
		return conn, nil
	}
}

func (h *retryHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return next
}

func (h *retryHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func New(cfg Config) (*RedisBus, error) {
	if len(cfg.Addrs) == 0 {
		cfg.Addrs = []string{"localhost:6379"}
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultConfig().OpTimeout
	}

	opts := &redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	}

	switch cfg.Mode {
	case "sentinel":
		if cfg.MasterName == "" {
			return nil, fmt.Errorf("redis sentinel mode requires master_name")
		}
		opts.MasterName = cfg.MasterName
	case "cluster":
		if len(cfg.Addrs) < 2 {
			slog.Warn("redis cluster mode with a single address falls back to a single-node client", "addrs", cfg.Addrs)
		}
	}
	client := redis.NewUniversalClient(opts)

	rb := &RedisBus{
		client: client,
		cfg:    cfg,
	}
	client.AddHook(&retryHook{bus: rb})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		_ = client.Close()
		return nil, err
	}

	slog.Info("connected to redis", "addrs", cfg.Addrs, "mode", cfg.Mode)
	return rb, nil
}

func (r *RedisBus) formatKey(topic string) string {
	return r.cfg.KeyPrefix + topic
}

// Publish 通过Redis PUBLISH发布消息
func (r *RedisBus) Publish(ctx context.Context, topic string, data []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	// 如果原始上下文已有超时，则使用较短的那个
	publishCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()

	if err := r.client.Publish(publishCtx, r.formatKey(topic), data).Err(); err != nil {
		publishErrorsCounter.Inc()
		slog.Warn("redis publish failed", "topic", topic, "error", err)
		return fmt.Errorf("%w: %v", bus.ErrPublishFailed, err)
	}
	return nil
}

func (r *RedisBus) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

var _ bus.Publisher = (*RedisBus)(nil)
