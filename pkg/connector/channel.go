package connector

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chenxilol/echohub/internal/metrics"
	"github.com/chenxilol/echohub/pkg/protocol"
)

// Kind 频道类型
type Kind int

const (
	KindPublic   Kind = iota // 公共频道
	KindPrivate              // 私有频道，可发送客户端事件
	KindPresence             // 在线状态频道，附带成员事件
)

func (k Kind) String() string {
	switch k {
	case KindPublic:
		return "public"
	case KindPrivate:
		return "private"
	case KindPresence:
		return "presence"
	default:
		return "unknown"
	}
}

// KindOf 根据注册名推导频道类型
func KindOf(name string) Kind {
	switch {
	case protocol.IsPresenceChannel(name):
		return KindPresence
	case protocol.IsPrivateChannel(name):
		return KindPrivate
	default:
		return KindPublic
	}
}

// PrivateName 私有频道的注册名
func PrivateName(name string) string {
	return protocol.PrivatePrefix + name
}

// PresenceName 在线状态频道的注册名
func PresenceName(name string) string {
	return protocol.PresencePrefix + name
}

// DerivedNames 同一逻辑名对应的三个注册名
func DerivedNames(name string) []string {
	return []string{name, PrivateName(name), PresenceName(name)}
}

// Listener 频道事件回调，参数为频道名和原始JSON负载
type Listener func(channel string, payload json.RawMessage)

// Subscription 注册表中的条目，三种频道类型共用
type Subscription interface {
	Name() string
	Kind() Kind
	base() *Channel
}

// emitter 频道通过连接器发送帧，不直接接触传输层
type emitter interface {
	emit(event, channel string, payload any) error
	subscribe(ch *Channel) error
	report(err error)
}

// Channel 一个订阅：事件名到有序监听列表的映射
type Channel struct {
	name      string
	kind      Kind
	namespace string
	emitter   emitter

	mu         sync.RWMutex
	listeners  map[string][]Listener
	subscribed bool
}

func newChannel(name string, kind Kind, namespace string, em emitter) *Channel {
	return &Channel{
		name:      name,
		kind:      kind,
		namespace: namespace,
		emitter:   em,
		listeners: make(map[string][]Listener),
	}
}

// Name 返回注册名
func (c *Channel) Name() string {
	return c.name
}

// Kind 返回频道类型
func (c *Channel) Kind() Kind {
	return c.kind
}

func (c *Channel) base() *Channel {
	return c
}

// Listen 追加事件监听，保持注册顺序，允许重复注册
// 在线状态保留事件名会被拒绝，请使用PresenceChannel的Here/Joining/Leaving
func (c *Channel) Listen(event string, cb Listener) *Channel {
	if IsReservedEvent(event) {
		slog.Warn("refusing to listen on reserved presence event", "channel", c.name, "event", event)
		c.emitter.report(fmt.Errorf("%w: %s", ErrReservedEvent, event))
		return c
	}
	if cb == nil {
		return c
	}

	c.on(c.formatEvent(event), cb)
	return c
}

// StopListening 移除某个事件的全部监听，保留事件不受影响
func (c *Channel) StopListening(event string) *Channel {
	if IsReservedEvent(event) {
		return c
	}
	event = c.formatEvent(event)

	c.mu.Lock()
	delete(c.listeners, event)
	c.mu.Unlock()

	return c
}

// ListenerCount 返回某个事件已注册的监听数量
func (c *Channel) ListenerCount(event string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners[c.formatEvent(event)])
}

// on 直接注册监听，不做保留名检查和命名空间处理
func (c *Channel) on(event string, cb Listener) {
	c.mu.Lock()
	c.listeners[event] = append(c.listeners[event], cb)
	c.mu.Unlock()
}

// dispatch 按注册顺序调用事件的全部监听，未注册的事件静默忽略
// 返回被调用的监听数量
func (c *Channel) dispatch(event string, payload json.RawMessage) int {
	c.mu.RLock()
	// append不会修改已有元素，切片头可以在锁外使用
	listeners := c.listeners[event]
	c.mu.RUnlock()

	for _, l := range listeners {
		c.invoke(event, l, payload)
	}
	return len(listeners)
}

func (c *Channel) invoke(event string, l Listener, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerPanic()
			slog.Error("channel listener panicked", "channel", c.name, "event", event, "panic", r)
			c.emitter.report(fmt.Errorf("%w: channel %s event %s: %v", ErrListenerPanic, c.name, event, r))
		}
	}()
	l(c.name, payload)
}

// subscribe 发送订阅帧，频道创建时自动调用
func (c *Channel) subscribe() {
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()

	if err := c.emitter.subscribe(c); err != nil {
		slog.Warn("subscribe frame not sent", "channel", c.name, "error", err)
	}
}

// unsubscribe 发送退订帧，仅在频道被Leave移除时调用
func (c *Channel) unsubscribe() {
	c.mu.Lock()
	wasSubscribed := c.subscribed
	c.subscribed = false
	c.mu.Unlock()

	if !wasSubscribed {
		return
	}
	if err := c.emitter.emit(protocol.EventUnsubscribe, c.name, nil); err != nil {
		slog.Warn("unsubscribe frame not sent", "channel", c.name, "error", err)
	}
}

func (c *Channel) markSubscribed() {
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
}

// formatEvent 命名空间处理：以'.'或'\'开头的事件名去掉首字符，
// 否则在设置了命名空间时加上"<namespace>."前缀并把'.'替换为'\'；客户端事件不处理
func (c *Channel) formatEvent(event string) string {
	if protocol.IsClientEvent(event) || IsReservedEvent(event) {
		return event
	}
	if strings.HasPrefix(event, ".") || strings.HasPrefix(event, `\`) {
		return event[1:]
	}
	if c.namespace == "" {
		return event
	}
	return strings.ReplaceAll(c.namespace+"."+event, ".", `\`)
}
