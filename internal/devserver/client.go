package devserver

import (
	"log/slog"
	"sync"

	"github.com/chenxilol/echohub/internal/websocket"
	"github.com/chenxilol/echohub/pkg/protocol"
)

// Client 一个已连接的客户端，socketID由握手请求头提供或由服务器生成
type Client struct {
	socketID string
	conn     *websocket.Conn

	mu       sync.RWMutex
	channels map[string]struct{}
}

func newClient(socketID string) *Client {
	return &Client{
		socketID: socketID,
		channels: make(map[string]struct{}),
	}
}

func (c *Client) ID() string {
	return c.socketID
}

// Send 非阻塞写入，发送缓冲已满时丢弃并返回错误
func (c *Client) Send(data []byte) error {
	return c.conn.TrySend(data)
}

// SendFrame 编码并发送一帧
func (c *Client) SendFrame(event, channel string, payload any) error {
	data, err := protocol.Encode(event, channel, payload)
	if err != nil {
		return err
	}
	if err := c.Send(data); err != nil {
		slog.Debug("failed to send frame to client", "client", c.socketID, "event", event, "error", err)
		return err
	}
	return nil
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) join(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; ok {
		return false
	}
	c.channels[channel] = struct{}{}
	return true
}

func (c *Client) leave(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	delete(c.channels, channel)
	return true
}

// InChannel 客户端是否已订阅频道
func (c *Client) InChannel(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// Channels 返回客户端订阅的频道
func (c *Client) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}
