package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chenxilol/echohub/pkg/bus"
	goredis "github.com/redis/go-redis/v9"
)

// setupTestRedis 创建一个miniredis服务器实例用于测试
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisBus) {
	t.Helper()
	s := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addrs = []string{s.Addr()}
	cfg.OpTimeout = 200 * time.Millisecond

	rb, err := New(cfg)
	if err != nil {
		t.Fatalf("无法创建RedisBus: %v", err)
	}
	t.Cleanup(func() { _ = rb.Close() })
	return s, rb
}

func TestRedisBus_PublishReachesSubscriber(t *testing.T) {
	s, rb := setupTestRedis(t)
	ctx := context.Background()

	sub := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(ctx, "echohub:news.update")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatalf("订阅失败: %v", err)
	}

	if err := rb.Publish(ctx, "news.update", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("发布消息失败: %v", err)
	}

	select {
	case msg := <-ps.Channel():
		if msg.Channel != "echohub:news.update" || msg.Payload != `{"v":1}` {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("没有收到消息")
	}
}

func TestRedisBus_PublishValidation(t *testing.T) {
	_, rb := setupTestRedis(t)
	ctx := context.Background()

	if err := rb.Publish(ctx, "", []byte("x")); !errors.Is(err, bus.ErrTopicEmpty) {
		t.Fatalf("Publish(empty) error = %v, want ErrTopicEmpty", err)
	}

	if err := rb.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := rb.Publish(ctx, "x", []byte("x")); !errors.Is(err, bus.ErrBusClosed) {
		t.Fatalf("Publish after close error = %v, want ErrBusClosed", err)
	}
}

func TestRedisBus_PublishFailsWhenServerDown(t *testing.T) {
	s, rb := setupTestRedis(t)
	s.Close()

	err := rb.Publish(context.Background(), "news", []byte("x"))
	if !errors.Is(err, bus.ErrPublishFailed) {
		t.Fatalf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestNew_ConnectionRefused(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addrs = []string{"127.0.0.1:1"}
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.MaxRetries = 0

	if _, err := New(cfg); err == nil {
		t.Fatal("expected New to fail against a closed port")
	}
}

func TestNew_SentinelRequiresMaster(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "sentinel"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected sentinel mode without master_name to fail")
	}
}
