package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 定义错误
var (
	ErrConnClosed     = errors.New("websocket connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Handlers 连接生命周期回调，均在连接自身的goroutine中调用
type Handlers struct {
	OnOpen    func()            // 连接建立（握手完成）
	OnMessage func(data []byte) // 收到文本或二进制消息
	OnClose   func(cause error) // 连接结束，本端主动关闭时cause为nil，只调用一次
}

// DialOptions 拨号参数
type DialOptions struct {
	URL       string
	Protocols []string    // Sec-WebSocket-Protocol 子协议列表
	Header    http.Header // 额外的握手请求头
}

// Conn 一条WebSocket连接，拥有独立的读写循环
type Conn struct {
	cfg      Config
	handlers Handlers

	mu sync.RWMutex
	ws WSConn // 握手完成前为nil

	out     chan []byte // 发送消息队列
	ctx     context.Context
	cancel  context.CancelFunc
	closed  sync.Once
	closing chan struct{} // 本端请求关闭，写循环排空队列后退出
	closeMu sync.Once
	done    chan struct{}
}

func newConn(ctx context.Context, cfg Config, h Handlers) *Conn {
	if cfg.MessageBufferCap <= 0 {
		cfg.MessageBufferCap = DefaultConfig().MessageBufferCap
	}
	connCtx, cancel := context.WithCancel(ctx)
	return &Conn{
		cfg:      cfg,
		handlers: h,
		out:      make(chan []byte, cfg.MessageBufferCap),
		ctx:      connCtx,
		cancel:   cancel,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Dial 异步建立客户端连接，立即返回；握手结果通过Handlers通知
func Dial(ctx context.Context, opts DialOptions, cfg Config, h Handlers) *Conn {
	c := newConn(ctx, cfg, h)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		Subprotocols:     opts.Protocols,
	}

	go func() {
		ws, _, err := dialer.DialContext(c.ctx, opts.URL, opts.Header)
		if err != nil {
			slog.Warn("websocket dial failed", "url", opts.URL, "error", err)
			c.shutdown(fmt.Errorf("dial %s: %w", opts.URL, err))
			return
		}
		slog.Debug("websocket connected", "url", opts.URL, "subprotocol", ws.Subprotocol())
		c.run(NewGorillaConn(ws))
	}()

	return c
}

// Attach 接管一条已经建立的连接（服务端升级后的连接或测试替身）
func Attach(ctx context.Context, ws WSConn, cfg Config, h Handlers) *Conn {
	c := newConn(ctx, cfg, h)
	go c.run(ws)
	return c
}

func (c *Conn) run(ws WSConn) {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		// 握手期间已被关闭
		c.mu.Unlock()
		_ = ws.Close()
		c.shutdown(nil)
		return
	}
	c.ws = ws
	c.mu.Unlock()

	go c.writeLoop(ws)

	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen()
	}

	c.readLoop(ws)
}

// Send 将消息放入发送队列；队列满时等待，连接关闭后返回ErrConnClosed
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
	}

	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnClosed
	}
}

// TrySend 非阻塞发送，队列满时返回ErrSendBufferFull
func (c *Conn) TrySend(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
	}

	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Close 主动关闭连接：先写出已排队的消息，最多等待一个写超时
func (c *Conn) Close() error {
	c.closeMu.Do(func() { close(c.closing) })

	c.mu.RLock()
	started := c.ws != nil
	c.mu.RUnlock()
	if !started {
		c.shutdown(nil)
		return nil
	}

	timer := time.NewTimer(c.writeTimeout())
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		c.shutdown(nil)
	}
	return nil
}

// Done 连接结束后关闭
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Subprotocol 返回协商得到的子协议
func (c *Conn) Subprotocol() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ws == nil {
		return ""
	}
	return c.ws.Subprotocol()
}

func (c *Conn) readLoop(ws WSConn) {
	if c.cfg.ReadLimit > 0 {
		ws.SetReadLimit(c.cfg.ReadLimit)
	}
	c.extendReadDeadline(ws)
	ws.SetPongHandler(func(string) error {
		c.extendReadDeadline(ws)
		return nil
	})

	for {
		msgType, message, err := ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil || IsNormalClose(err) {
				c.shutdown(nil)
			} else {
				c.shutdown(err)
			}
			return
		}
		c.extendReadDeadline(ws)

		if msgType != TextMessage && msgType != BinaryMessage {
			slog.Warn("received unexpected message type", "type", msgType)
			continue
		}

		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(message)
		}
	}
}

func (c *Conn) writeLoop(ws WSConn) {
	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.ctx.Done():
			// 上级context结束时关闭底层连接，使读循环退出
			c.shutdown(nil)
			return

		case data := <-c.out:
			c.setWriteDeadline(ws)
			if err := ws.WriteMessage(TextMessage, data); err != nil {
				slog.Info("write failed", "error", err)
				c.shutdown(err)
				return
			}

		case <-c.closing:
			if err := c.drain(ws); err != nil {
				c.shutdown(err)
				return
			}
			c.shutdown(nil)
			return

		case <-ping:
			deadline := time.Now().Add(c.writeTimeout())
			if err := ws.WriteControl(PingMessage, nil, deadline); err != nil {
				slog.Info("ping failed", "error", err)
				c.shutdown(err)
				return
			}
		}
	}
}

// drain 写出队列中剩余的消息
func (c *Conn) drain(ws WSConn) error {
	for {
		select {
		case data := <-c.out:
			c.setWriteDeadline(ws)
			if err := ws.WriteMessage(TextMessage, data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Conn) shutdown(cause error) {
	c.closed.Do(func() {
		c.cancel()

		c.mu.RLock()
		ws := c.ws
		c.mu.RUnlock()

		if ws != nil {
			if cause == nil {
				deadline := time.Now().Add(time.Second)
				_ = ws.WriteControl(CloseMessage, FormatCloseMessage(CloseNormalClosure, ""), deadline)
			}
			_ = ws.Close()
		}

		close(c.done)

		if c.handlers.OnClose != nil {
			c.handlers.OnClose(cause)
		}
	})
}

func (c *Conn) extendReadDeadline(ws WSConn) {
	if c.cfg.ReadTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
}

func (c *Conn) setWriteDeadline(ws WSConn) {
	_ = ws.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
}

func (c *Conn) writeTimeout() time.Duration {
	if c.cfg.WriteTimeout > 0 {
		return c.cfg.WriteTimeout
	}
	return DefaultConfig().WriteTimeout
}
