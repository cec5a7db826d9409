// Package noop 提供一个空操作的总线实现
package noop

import (
	"context"
	"sync"

	"github.com/chenxilol/echohub/pkg/bus"
)

// NoopBus 直接丢弃消息，未启用转发时使用
type NoopBus struct {
	closed bool
	mu     sync.Mutex
}

func New() *NoopBus {
	return &NoopBus{}
}

// Publish 不做任何事情，只校验主题和关闭状态
func (n *NoopBus) Publish(ctx context.Context, topic string, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}
	return nil
}

func (n *NoopBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

var _ bus.Publisher = (*NoopBus)(nil)
