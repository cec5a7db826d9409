// Package protocol 提供频道连接器的线路协议编解码
package protocol

import (
	"encoding/json"
	"strings"
)

// 控制事件与保留前缀
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"

	ClientEventPrefix = "client-"

	PrivatePrefix  = "private-"  // 私有频道名前缀
	PresencePrefix = "presence-" // 在线状态频道名前缀
)

// 服务端下发的保留事件，客户端普通Listen不能注册
const (
	EventPresenceSubscribed = "presence:subscribed" // 初始成员列表
	EventPresenceJoining    = "presence:joining"    // 成员加入
	EventPresenceLeaving    = "presence:leaving"    // 成员离开
	EventSubscriptionError  = "subscription:error"  // 订阅鉴权失败
)

// IsPresenceEvent 是否为在线状态保留事件
func IsPresenceEvent(event string) bool {
	switch event {
	case EventPresenceSubscribed, EventPresenceJoining, EventPresenceLeaving:
		return true
	}
	return false
}

// IsControlEvent 是否为不带负载的控制事件
func IsControlEvent(event string) bool {
	return event == EventSubscribe || event == EventUnsubscribe
}

// Frame 一条协议消息：事件名、频道名和负载
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"` // 为空表示控制帧，不写出payload字段
}

// ClientEvent 生成客户端事件名（client-<name>）
func ClientEvent(name string) string {
	return ClientEventPrefix + name
}

// IsClientEvent 判断事件是否由客户端发起
func IsClientEvent(event string) bool {
	return strings.HasPrefix(event, ClientEventPrefix)
}

// IsPrivateChannel 频道名是否为私有频道（含在线状态频道）
func IsPrivateChannel(channel string) bool {
	return strings.HasPrefix(channel, PrivatePrefix) || IsPresenceChannel(channel)
}

// IsPresenceChannel 频道名是否为在线状态频道
func IsPresenceChannel(channel string) bool {
	return strings.HasPrefix(channel, PresencePrefix)
}

// Decode 将负载解码到指定结构
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Payload, v)
}
