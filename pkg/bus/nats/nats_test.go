package nats

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/chenxilol/echohub/pkg/bus"
	"github.com/nats-io/nats.go"
)

// startNatsServer 启动本地nats-server，不在PATH中时跳过
func startNatsServer(t *testing.T, args ...string) string {
	t.Helper()
	if _, err := exec.LookPath("nats-server"); err != nil {
		t.Skip("nats-server not found in PATH, skipping test")
	}

	port, err := freePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}

	cmd := exec.Command("nats-server", append([]string{"-p", strconv.Itoa(port)}, args...)...)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start nats-server: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Signal(os.Interrupt)
		_ = cmd.Wait()
	})

	url := fmt.Sprintf("nats://127.0.0.1:%d", port)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port)); err == nil {
			conn.Close()
			return url
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("nats-server did not start on port %d", port)
	return ""
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func TestNatsBus_CorePublish(t *testing.T) {
	url := startNatsServer(t)

	cfg := DefaultConfig()
	cfg.URLs = []string{url}
	nb, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer nb.Close()

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe("echohub.news.update", msgs); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := nb.Publish(context.Background(), "echohub.news.update", []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case m := <-msgs:
		if string(m.Data) != "hello" {
			t.Fatalf("data = %q, want hello", m.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestNatsBus_JetStreamPublish(t *testing.T) {
	url := startNatsServer(t, "-js", "-sd", t.TempDir())

	cfg := DefaultConfig()
	cfg.URLs = []string{url}
	cfg.UseJetStream = true
	nb, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer nb.Close()

	if err := nb.Publish(context.Background(), "echohub.news.update", []byte("persisted")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	info, err := nb.js.StreamInfo(cfg.StreamName)
	if err != nil {
		t.Fatalf("StreamInfo() error = %v", err)
	}
	if info.State.Msgs != 1 {
		t.Fatalf("stream messages = %d, want 1", info.State.Msgs)
	}

	// 流之外的主题没有PubAck
	if err := nb.Publish(context.Background(), "other.topic", []byte("x")); !errors.Is(err, bus.ErrPublishFailed) {
		t.Fatalf("Publish(outside stream) error = %v, want ErrPublishFailed", err)
	}
}

func TestNatsBus_Validation(t *testing.T) {
	url := startNatsServer(t)

	cfg := DefaultConfig()
	cfg.URLs = []string{url}
	nb, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := nb.Publish(context.Background(), "", nil); !errors.Is(err, bus.ErrTopicEmpty) {
		t.Fatalf("Publish(empty) error = %v", err)
	}
	_ = nb.Close()
	if err := nb.Publish(context.Background(), "x", nil); !errors.Is(err, bus.ErrBusClosed) {
		t.Fatalf("Publish after close error = %v", err)
	}
}

func TestNew_ConnectionRefused(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URLs = []string{"nats://127.0.0.1:1"}
	cfg.ConnectTimeout = 200 * time.Millisecond
	if _, err := New(cfg); err == nil {
		t.Fatal("expected New to fail against a closed port")
	}
}
