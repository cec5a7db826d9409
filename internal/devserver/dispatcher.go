package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/chenxilol/echohub/pkg/protocol"
)

// ErrInvalidFrame 客户端帧缺少event或channel
var ErrInvalidFrame = errors.New("invalid client frame")

// Handler 客户端帧处理函数
type Handler func(ctx context.Context, c *Client, f protocol.Frame) error

// Dispatcher 按事件名路由客户端帧，client-前缀的事件统一交给前缀处理函数
type Dispatcher struct {
	mu       sync.RWMutex
	table    map[string]Handler
	prefixes map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		table:    make(map[string]Handler),
		prefixes: make(map[string]Handler),
	}
}

// Register 注册事件处理函数
func (d *Dispatcher) Register(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.table[event] = h
}

// RegisterPrefix 注册事件名前缀的处理函数，精确匹配优先
func (d *Dispatcher) RegisterPrefix(prefix string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prefixes[prefix] = h
}

// DecodeAndRoute 解码客户端帧并路由
// 订阅类控制帧不带payload，这里只要求event和channel
func (d *Dispatcher) DecodeAndRoute(ctx context.Context, c *Client, data []byte) error {
	var f protocol.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return ErrInvalidFrame
	}
	if f.Event == "" || f.Channel == "" {
		return ErrInvalidFrame
	}

	handler := d.lookup(f.Event)
	if handler == nil {
		slog.Debug("no handler registered for event", "event", f.Event, "client", c.ID())
		return nil
	}

	return handler(ctx, c, f)
}

func (d *Dispatcher) lookup(event string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if h, ok := d.table[event]; ok {
		return h
	}
	for prefix, h := range d.prefixes {
		if len(event) > len(prefix) && event[:len(prefix)] == prefix {
			return h
		}
	}
	return nil
}
