package connector

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chenxilol/echohub/internal/metrics"
	"github.com/chenxilol/echohub/pkg/protocol"
)

// 在线状态频道的保留事件名，与服务端共用protocol中的定义
const (
	EventPresenceSubscribed = protocol.EventPresenceSubscribed
	EventPresenceJoining    = protocol.EventPresenceJoining
	EventPresenceLeaving    = protocol.EventPresenceLeaving
)

// IsReservedEvent 是否为在线状态保留事件
func IsReservedEvent(event string) bool {
	return protocol.IsPresenceEvent(event)
}

// Member 在线状态成员记录，UserInfo由应用定义，连接器不解析其内容
type Member struct {
	UserID   json.RawMessage `json:"user_id,omitempty"`
	UserInfo json.RawMessage `json:"user_info"`
}

func (m Member) key() string {
	if len(m.UserID) > 0 && string(m.UserID) != "null" {
		return string(m.UserID)
	}
	return string(m.UserInfo)
}

// PresenceChannel 在私有频道之上增加成员事件
type PresenceChannel struct {
	*PrivateChannel

	mu      sync.RWMutex
	members []Member
}

func newPresenceChannel(c *Channel) *PresenceChannel {
	p := &PresenceChannel{PrivateChannel: &PrivateChannel{Channel: c}}
	// 成员表先于应用回调更新，回调内调用Members可以看到最新状态
	p.on(EventPresenceSubscribed, p.trackRoster)
	p.on(EventPresenceJoining, p.trackJoining)
	p.on(EventPresenceLeaving, p.trackLeaving)
	return p
}

// Listen 同Channel.Listen，返回在线状态频道以便链式调用
func (p *PresenceChannel) Listen(event string, cb Listener) *PresenceChannel {
	p.Channel.Listen(event, cb)
	return p
}

// StopListening 同Channel.StopListening
func (p *PresenceChannel) StopListening(event string) *PresenceChannel {
	p.Channel.StopListening(event)
	return p
}

// Whisper 同PrivateChannel.Whisper
func (p *PresenceChannel) Whisper(event string, data any) *PresenceChannel {
	p.PrivateChannel.Whisper(event, data)
	return p
}

// Here 订阅成功后收到的成员列表，按服务端顺序传入每个成员的user_info
func (p *PresenceChannel) Here(cb func(users []json.RawMessage)) *PresenceChannel {
	if cb == nil {
		return p
	}
	p.on(EventPresenceSubscribed, func(_ string, payload json.RawMessage) {
		members, err := decodeRoster(payload)
		if err != nil {
			p.malformed(EventPresenceSubscribed, err)
			return
		}
		users := make([]json.RawMessage, len(members))
		for i, m := range members {
			users[i] = m.UserInfo
		}
		cb(users)
	})
	return p
}

// Joining 新成员加入
func (p *PresenceChannel) Joining(cb func(user json.RawMessage)) *PresenceChannel {
	p.onMember(EventPresenceJoining, cb)
	return p
}

// Leaving 成员离开
func (p *PresenceChannel) Leaving(cb func(user json.RawMessage)) *PresenceChannel {
	p.onMember(EventPresenceLeaving, cb)
	return p
}

// Members 返回当前成员表的副本
func (p *PresenceChannel) Members() []Member {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Member, len(p.members))
	copy(out, p.members)
	return out
}

func (p *PresenceChannel) onMember(event string, cb func(user json.RawMessage)) {
	if cb == nil {
		return
	}
	p.on(event, func(_ string, payload json.RawMessage) {
		m, err := decodeMember(payload)
		if err != nil {
			p.malformed(event, err)
			return
		}
		cb(m.UserInfo)
	})
}

// 以下三个监听维护成员表，负载异常时静默跳过，由应用回调的包装负责上报

func (p *PresenceChannel) trackRoster(_ string, payload json.RawMessage) {
	members, err := decodeRoster(payload)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.members = members
	p.mu.Unlock()
}

func (p *PresenceChannel) trackJoining(_ string, payload json.RawMessage) {
	m, err := decodeMember(payload)
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.members {
		if existing.key() == m.key() {
			p.members[i] = m
			return
		}
	}
	p.members = append(p.members, m)
}

func (p *PresenceChannel) trackLeaving(_ string, payload json.RawMessage) {
	m, err := decodeMember(payload)
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.members {
		if existing.key() == m.key() {
			p.members = append(p.members[:i], p.members[i+1:]...)
			return
		}
	}
}

func (p *PresenceChannel) malformed(event string, err error) {
	metrics.PresenceMalformed()
	slog.Warn("malformed presence payload", "channel", p.name, "event", event, "error", err)
	p.emitter.report(fmt.Errorf("%w: channel %s event %s: %v", ErrMalformedPresence, p.name, event, err))
}

func decodeRoster(payload json.RawMessage) ([]Member, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, fmt.Errorf("member list: %w", err)
	}
	if items == nil {
		return nil, fmt.Errorf("member list is null")
	}

	members := make([]Member, 0, len(items))
	for i, item := range items {
		m, err := decodeMember(item)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		members = append(members, m)
	}
	return members, nil
}

func decodeMember(payload json.RawMessage) (Member, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Member{}, fmt.Errorf("member record: %w", err)
	}
	if fields == nil {
		return Member{}, fmt.Errorf("member record is null")
	}
	info, ok := fields["user_info"]
	if !ok {
		return Member{}, fmt.Errorf("member record has no user_info")
	}
	return Member{UserID: fields["user_id"], UserInfo: info}, nil
}
