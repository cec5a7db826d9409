// Package bus 将频道事件转发到外部消息总线
package bus

import (
	"context"
	"errors"
)

// 定义错误类型
var (
	ErrTopicEmpty    = errors.New("topic cannot be empty")
	ErrBusClosed     = errors.New("message bus is closed")
	ErrPublishFailed = errors.New("publish message failed")
)

// Publisher 向主题发布消息
type Publisher interface {
	// Publish 发布消息到指定主题，没有订阅者不算错误
	Publish(ctx context.Context, topic string, data []byte) error

	Close() error
}
