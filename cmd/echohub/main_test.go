package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chenxilol/echohub/configs"
	"github.com/chenxilol/echohub/internal/devserver"
	"github.com/chenxilol/echohub/internal/utils"
	"github.com/chenxilol/echohub/pkg/bus/noop"
	busredis "github.com/chenxilol/echohub/pkg/bus/redis"
	"github.com/chenxilol/echohub/pkg/connector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer 并发安全的输出缓冲
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startDevServer(t *testing.T) (*devserver.Server, string) {
	t.Helper()
	s := devserver.New(devserver.DefaultConfig())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestCreatePublisher(t *testing.T) {
	noRetry := utils.Backoff{Retries: 0}

	t.Run("disabled uses noop", func(t *testing.T) {
		rc := configs.NewDefaultConfig().Relay
		rc.BusType = configs.BusRedis
		pub, err := createPublisher(context.Background(), rc, noRetry)
		require.NoError(t, err)
		assert.IsType(t, &noop.NoopBus{}, pub)
	})

	t.Run("redis", func(t *testing.T) {
		s := miniredis.RunT(t)
		rc := configs.NewDefaultConfig().Relay
		rc.Enabled = true
		rc.BusType = "Redis"
		rc.Redis.Addrs = []string{s.Addr()}

		pub, err := createPublisher(context.Background(), rc, noRetry)
		require.NoError(t, err)
		defer pub.Close()
		assert.IsType(t, &busredis.RedisBus{}, pub)
	})

	t.Run("unknown type", func(t *testing.T) {
		rc := configs.NewDefaultConfig().Relay
		rc.Enabled = true
		rc.BusType = "kafka"
		_, err := createPublisher(context.Background(), rc, noRetry)
		assert.ErrorIs(t, err, configs.ErrUnknownBusType)
	})

	t.Run("redis unreachable retries", func(t *testing.T) {
		rc := configs.NewDefaultConfig().Relay
		rc.Enabled = true
		rc.BusType = configs.BusRedis
		rc.Redis.Addrs = []string{"127.0.0.1:1"}
		rc.Redis.DialTimeout = 100 * time.Millisecond
		rc.Redis.MaxRetries = 0

		_, err := createPublisher(context.Background(), rc, utils.Backoff{Initial: time.Millisecond, Retries: 1})
		assert.Error(t, err)
	})
}

func TestEventPrinter(t *testing.T) {
	var out bytes.Buffer
	p := newEventPrinter(&out)
	p.listener("update")("news", json.RawMessage(`{"v":1}`))
	p.print("news", "empty", nil)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var ev printedEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "news", ev.Channel)
	assert.Equal(t, "update", ev.Event)
	assert.JSONEq(t, `{"v":1}`, string(ev.Payload))

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "null", string(ev.Payload))
}

func TestApplyFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--host", "ws://flag.test/ws", "--log-level", "debug"}))

	c := applyFlags(cmd, configs.NewDefaultConfig())
	assert.Equal(t, "ws://flag.test/ws", c.Connector.Host)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "", c.Metrics.Addr)
}

func TestRunListen_PrintsBroadcasts(t *testing.T) {
	srv, url := startDevServer(t)

	cfg = configs.NewDefaultConfig()
	cfg.Connector.Host = url

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- runListen(ctx, out, listenOptions{public: []string{"news"}, events: []string{"update"}})
	}()

	require.Eventually(t, func() bool { return srv.Subscribers("news") == 1 }, 3*time.Second, 10*time.Millisecond)
	_, err := srv.Broadcast("news", "update", map[string]int{"v": 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"event":"update"`)
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("listen did not stop")
	}
}

func TestRunWhisper_DeliversToOtherMember(t *testing.T) {
	_, url := startDevServer(t)

	// 接收方先订阅同一私有频道
	receiver := connector.New(connector.DefaultOptions(url))
	got := make(chan json.RawMessage, 1)
	receiver.PrivateChannel("chat.1").Listen("client-typing", func(_ string, payload json.RawMessage) {
		got <- payload
	})
	_, err := receiver.Connect(context.Background())
	require.NoError(t, err)
	defer receiver.Disconnect()
	require.Eventually(t, func() bool { return receiver.State() == connector.StateOpen }, 3*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sender := connector.New(connector.DefaultOptions(url))
	require.NoError(t, runWhisper(ctx, sender, whisperOptions{channel: "chat.1", event: "typing", data: `{"user":"ana"}`}))

	select {
	case payload := <-got:
		assert.JSONEq(t, `{"user":"ana"}`, string(payload))
	case <-time.After(3 * time.Second):
		t.Fatal("whisper not received")
	}
}
