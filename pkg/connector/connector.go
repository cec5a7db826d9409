// Package connector 在一条WebSocket连接上复用多个逻辑频道的客户端连接器
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chenxilol/echohub/internal/metrics"
	"github.com/chenxilol/echohub/pkg/protocol"
	"github.com/google/uuid"
)

// State 连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session 一次连接的状态：传输句柄、发送队列和连接ID
// 每次Connect都会创建新的session，旧session的事件被忽略
type session struct {
	id    string
	queue *SendQueue

	mu          sync.Mutex
	transport   Transport
	openPending bool // 拨号返回前已收到OnOpen
}

func newSession(id string) *session {
	s := &session{id: id}
	s.queue = newSendQueue(s.send)
	return s
}

func (s *session) send(data []byte) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return ErrTransportClosed
	}
	return t.Send(data)
}

// attach 记录拨号得到的传输句柄，返回是否需要补做一次flush
func (s *session) attach(t Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
	pending := s.openPending
	s.openPending = false
	return pending
}

// opened 返回false表示传输句柄尚未记录，flush推迟到attach
func (s *session) opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		s.openPending = true
		return false
	}
	return true
}

func (s *session) detach() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transport
	s.transport = nil
	s.openPending = false
	return t
}

// Connector 连接器：持有当前session和频道注册表
type Connector struct {
	opts     Options
	registry *registry

	mu    sync.RWMutex
	sess  *session
	state State

	// 持锁期间产生的错误，释放锁后再交给OnError
	errMu    sync.Mutex
	deferred []error
}

// New 创建连接器，此时不会建立连接；连接前创建的频道其订阅帧在Connect后发出
func New(opts Options) *Connector {
	if opts.Transport == (TransportConfig{}) {
		opts.Transport = DefaultTransportConfig()
	}

	c := &Connector{
		opts:  opts,
		sess:  newSession(""),
		state: StateDisconnected,
	}
	c.registry = newRegistry(c.newSubscription)
	return c
}

func (c *Connector) newSubscription(name string) Subscription {
	ch := newChannel(name, KindOf(name), c.opts.Namespace, c)
	switch ch.kind {
	case KindPresence:
		return newPresenceChannel(ch)
	case KindPrivate:
		return &PrivateChannel{Channel: ch}
	default:
		return ch
	}
}

// Connect 建立新连接并返回传输句柄，ctx控制整个连接的生命周期
//
// 新连接使用新的连接ID；已有频道保留监听，并在新连接就绪时按注册顺序重新订阅。
// 上一个连接尚未发出的应用帧（例如客户端事件）排在订阅帧之后继续发送。
func (c *Connector) Connect(ctx context.Context) (Transport, error) {
	if c.opts.Host == "" {
		return nil, ErrNoHost
	}

	id := uuid.NewString()
	s := newSession(id)
	defer c.flushErrors()

	var (
		stale     Transport
		wasClosed bool
	)
	c.registry.locked(func(subs []Subscription) {
		for _, sub := range subs {
			data, err := c.subscribeFrame(id, sub.Name())
			if err != nil {
				slog.Error("failed to encode subscribe frame", "channel", sub.Name(), "error", err)
				continue
			}
			sub.base().markSubscribed()
			s.queue.enqueue(outbound{event: protocol.EventSubscribe, data: data})
		}

		c.mu.Lock()
		old := c.sess
		s.queue.enqueue(old.queue.takeApplication()...)
		stale = old.detach()
		wasClosed = c.state == StateClosed
		c.sess = s
		c.setState(StateConnecting)
		c.mu.Unlock()

		slog.Info("connecting", "url", c.opts.endpoint(), "socket_id", id, "channels", len(subs), "queued", s.queue.Len())
	})

	if stale != nil {
		_ = stale.Close()
		c.countClosed(wasClosed)
	}

	t, err := c.opts.dialer().Dial(ctx, DialRequest{
		URL:       c.opts.endpoint(),
		Protocols: c.opts.Protocols,
		Header:    c.opts.Header,
		SocketID:  id,
		Config:    c.opts.Transport,
		Extra:     c.opts.Extra,
	}, TransportEvents{
		OnOpen:    func() { c.handleOpen(s) },
		OnMessage: func(data []byte) { c.handleMessage(s, data) },
		OnClose:   func(cause error) { c.handleClose(s, cause) },
	})
	if err != nil {
		c.mu.Lock()
		if c.sess == s {
			c.setState(StateClosed)
		}
		c.mu.Unlock()
		slog.Warn("dial failed", "url", c.opts.endpoint(), "error", err)
		return nil, fmt.Errorf("connect %s: %w", c.opts.endpoint(), err)
	}

	if s.attach(t) {
		c.flush(s)
	}
	return t, nil
}

// Disconnect 关闭当前连接，状态回到Disconnected；频道和监听保留
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	old := c.sess
	idle := newSession("")
	idle.queue.enqueue(old.queue.takeApplication()...)
	stale := old.detach()
	wasClosed := c.state == StateClosed
	c.sess = idle
	c.setState(StateDisconnected)
	c.mu.Unlock()

	if stale == nil {
		return nil
	}
	slog.Info("disconnecting", "socket_id", old.id)
	err := stale.Close()
	c.countClosed(wasClosed)
	return err
}

// countClosed 被替换的session其OnClose会被忽略，由替换方记录关闭
// 传输层此前已自行关闭时handleClose已经记过一次
func (c *Connector) countClosed(wasClosed bool) {
	if !wasClosed {
		metrics.ConnectionClosed()
	}
}

// Channel 获取或创建公共频道；name带private-/presence-前缀时得到对应类型的频道
func (c *Connector) Channel(name string) *Channel {
	defer c.flushErrors()
	return c.registry.GetOrCreate(name).base()
}

// PrivateChannel 获取或创建私有频道 private-<name>
func (c *Connector) PrivateChannel(name string) *PrivateChannel {
	defer c.flushErrors()
	return c.registry.GetOrCreate(PrivateName(name)).(*PrivateChannel)
}

// PresenceChannel 获取或创建在线状态频道 presence-<name>
func (c *Connector) PresenceChannel(name string) *PresenceChannel {
	defer c.flushErrors()
	return c.registry.GetOrCreate(PresenceName(name)).(*PresenceChannel)
}

// Listen 等价于 Channel(channel).Listen(event, cb)
func (c *Connector) Listen(channel, event string, cb Listener) *Channel {
	return c.Channel(channel).Listen(event, cb)
}

// Leave 退订name对应的公共、私有和在线状态频道
func (c *Connector) Leave(name string) {
	if n := c.registry.Leave(name); n > 0 {
		slog.Debug("left channels", "name", name, "removed", n)
	}
}

// SocketID 返回当前连接ID，连接未就绪时返回空串
func (c *Connector) SocketID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateOpen {
		return ""
	}
	return c.sess.id
}

// State 返回当前连接状态
func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Channels 按注册顺序返回已注册的频道名
func (c *Connector) Channels() []string {
	return c.registry.Names()
}

// Pending 当前连接发送队列中的帧数
func (c *Connector) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.queue.Len()
}

func (c *Connector) handleOpen(s *session) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.setState(StateOpen)
	c.mu.Unlock()

	metrics.ConnectionOpened()
	slog.Info("connection open", "socket_id", s.id)

	if s.opened() {
		c.flush(s)
	}
}

func (c *Connector) flush(s *session) {
	if err := s.queue.Flush(); err != nil {
		slog.Error("failed to flush send queue", "socket_id", s.id, "error", err)
		c.report(err)
	}
}

func (c *Connector) handleMessage(s *session, data []byte) {
	if !c.current(s) {
		return
	}
	metrics.FrameReceived(float64(len(data)))

	f, err := protocol.Decode(data)
	if err != nil {
		var de *protocol.DecodeError
		kind := "unknown"
		if errors.As(err, &de) {
			kind = de.Kind.String()
		}
		metrics.DecodeError(kind)
		slog.Error("failed to decode inbound frame", "socket_id", s.id, "kind", kind, "error", err)
		c.report(err)
		return
	}

	sub, ok := c.registry.Lookup(f.Channel)
	if !ok {
		metrics.UnknownChannelFrame()
		slog.Debug("frame for unknown channel ignored", "channel", f.Channel, "event", f.Event)
		return
	}

	n := sub.base().dispatch(f.Event, f.Payload)
	slog.Debug("frame dispatched", "channel", f.Channel, "event", f.Event, "listeners", n)
}

func (c *Connector) handleClose(s *session, cause error) {
	s.queue.Close()

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.setState(StateClosed)
	c.mu.Unlock()

	metrics.ConnectionClosed()
	if cause != nil {
		slog.Warn("connection closed", "socket_id", s.id, "error", cause)
		c.report(fmt.Errorf("%w: %v", ErrTransportClosed, cause))
		return
	}
	slog.Info("connection closed", "socket_id", s.id)
}

func (c *Connector) current(s *session) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess == s
}

// setState 调用方持有c.mu
func (c *Connector) setState(st State) {
	c.state = st
	metrics.SetConnectionState(int(st))
}

// emit 编码并提交到当前连接的发送队列
// 提交时不持有c.mu，send回调中同步触发的emit不会重入连接器的锁
func (c *Connector) emit(event, channel string, payload any) error {
	data, err := protocol.Encode(event, channel, payload)
	if err != nil {
		return err
	}

	for {
		err := c.session().queue.Submit(event, data)
		if !errors.Is(err, errQueueRetired) {
			return err
		}
		// 会话刚被替换，改投新会话的队列
	}
}

// subscribe 由注册表在持有其锁时调用
func (c *Connector) subscribe(ch *Channel) error {
	s := c.session()
	data, err := c.subscribeFrame(s.id, ch.name)
	if err != nil {
		return err
	}
	if err := s.queue.Submit(protocol.EventSubscribe, data); !errors.Is(err, errQueueRetired) {
		return err
	}
	// 连接已被Disconnect替换，下次Connect会按注册表重新订阅
	return nil
}

func (c *Connector) session() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

// subscribeFrame 私有/在线状态频道在有连接ID时附带授权负载，授权失败仍发送不带负载的订阅帧
func (c *Connector) subscribeFrame(socketID, channel string) ([]byte, error) {
	var payload any
	if c.opts.Authorizer != nil && socketID != "" && protocol.IsPrivateChannel(channel) {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.authTimeout())
		raw, err := c.opts.Authorizer.Authorize(ctx, socketID, channel)
		cancel()
		if err != nil {
			slog.Error("channel authorization failed", "channel", channel, "error", err)
			c.deferError(fmt.Errorf("%w: channel %s: %v", ErrAuthorization, channel, err))
		} else {
			payload = raw
		}
	}
	return protocol.Encode(protocol.EventSubscribe, channel, payload)
}

// report 调用方不能持有注册表或连接器的锁
func (c *Connector) report(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

func (c *Connector) deferError(err error) {
	c.errMu.Lock()
	c.deferred = append(c.deferred, err)
	c.errMu.Unlock()
}

func (c *Connector) flushErrors() {
	c.errMu.Lock()
	errs := c.deferred
	c.deferred = nil
	c.errMu.Unlock()

	for _, err := range errs {
		c.report(err)
	}
}

var _ emitter = (*Connector)(nil)
