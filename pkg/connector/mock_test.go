package connector

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/chenxilol/echohub/pkg/protocol"
)

// mockTransport 记录发送的帧，由测试手动触发生命周期事件
type mockTransport struct {
	events TransportEvents
	req    DialRequest

	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	sendErr error
}

func (m *mockTransport) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if m.closed {
		return errors.New("mock transport closed")
	}
	m.sent = append(m.sent, append([]byte(nil), data...))
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	already := m.closed
	m.closed = true
	m.mu.Unlock()

	if !already && m.events.OnClose != nil {
		m.events.OnClose(nil)
	}
	return nil
}

func (m *mockTransport) open() {
	m.events.OnOpen()
}

func (m *mockTransport) receive(t *testing.T, event, channel string, payload any) {
	t.Helper()
	data, err := protocol.Encode(event, channel, payload)
	if err != nil {
		t.Fatalf("encode inbound frame: %v", err)
	}
	m.events.OnMessage(data)
}

func (m *mockTransport) fail(cause error) {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.events.OnClose(cause)
}

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// frames 以Frame形式返回已发送的帧（控制帧的Payload为空）
func (m *mockTransport) frames(t *testing.T) []protocol.Frame {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]protocol.Frame, 0, len(m.sent))
	for _, raw := range m.sent {
		var f protocol.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("sent frame is not json: %s", raw)
		}
		out = append(out, f)
	}
	return out
}

func (m *mockTransport) reset() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

// mockDialer 每次拨号返回新的mockTransport
type mockDialer struct {
	mu         sync.Mutex
	transports []*mockTransport
	openOnDial bool // 在Dial返回前触发OnOpen
	err        error
}

func (d *mockDialer) Dial(_ context.Context, req DialRequest, events TransportEvents) (Transport, error) {
	if d.err != nil {
		return nil, d.err
	}
	t := &mockTransport{events: events, req: req}

	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()

	if d.openOnDial {
		events.OnOpen()
	}
	return t, nil
}

func (d *mockDialer) last() *mockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// errorSink 收集OnError上报的错误
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) record(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errorSink) has(target error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, err := range s.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *errorSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

func newTestConnector(t *testing.T, mutate ...func(*Options)) (*Connector, *mockDialer, *errorSink) {
	t.Helper()
	d := &mockDialer{}
	sink := &errorSink{}
	opts := DefaultOptions("ws://echo.test")
	opts.Dialer = d
	opts.OnError = sink.record
	for _, fn := range mutate {
		fn(&opts)
	}
	return New(opts), d, sink
}

// connectOpen 建立连接并触发open
func connectOpen(t *testing.T, c *Connector, d *mockDialer) *mockTransport {
	t.Helper()
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	tr := d.last()
	tr.open()
	return tr
}

func eventsOf(frames []protocol.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Event + ":" + f.Channel
	}
	return out
}
