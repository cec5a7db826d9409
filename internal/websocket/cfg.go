// Package websocket 提供基于gorilla/websocket的传输层实现
package websocket

import "time"

// Config 定义WebSocket连接的配置选项
type Config struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`  // 握手超时时间
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`       // 读取超时时间，0表示不设置
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`      // 写入超时时间
	PingInterval     time.Duration `mapstructure:"ping_interval"`      // 心跳间隔，0表示不发送ping
	ReadLimit        int64         `mapstructure:"read_limit"`         // 单条消息最大字节数
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`   // 读取缓冲区大小
	WriteBufferSize  int           `mapstructure:"write_buffer_size"`  // 写入缓冲区大小
	MessageBufferCap int           `mapstructure:"message_buffer_cap"` // 发送队列缓冲容量
}

// DefaultConfig 返回默认的WebSocket配置
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      3 * time.Minute,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadLimit:        1 << 20, // 1MB
		ReadBufferSize:   4 << 10, // 4KB
		WriteBufferSize:  4 << 10, // 4KB
		MessageBufferCap: 256,     // 256条消息的队列
	}
}
