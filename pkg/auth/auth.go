// Package auth 私有/在线状态频道的订阅授权
package auth

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrInvalidToken     = errors.New("无效的令牌")
	ErrTokenExpired     = errors.New("令牌已过期")
	ErrPermissionDenied = errors.New("权限不足")
	ErrChannelMismatch  = errors.New("令牌与频道或连接不匹配")
	ErrNotPrivate       = errors.New("公共频道无需授权")
)

// ChannelClaims 频道授权令牌的声明内容
type ChannelClaims struct {
	SocketID  string          `json:"socket_id"`           // 连接ID
	Channel   string          `json:"channel"`             // 授权的频道注册名
	UserID    string          `json:"user_id,omitempty"`   // 在线状态频道的成员ID
	UserInfo  json.RawMessage `json:"user_info,omitempty"` // 在线状态频道的成员信息
	ExpiresAt int64           `json:"exp"`
	IssuedAt  int64           `json:"iat"`
	Issuer    string          `json:"iss"`
}

// ChannelData 在线状态频道订阅时附带的成员数据
type ChannelData struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

// SubscribePayload 私有/在线状态频道订阅帧的负载
type SubscribePayload struct {
	Auth        string       `json:"auth"`
	ChannelData *ChannelData `json:"channel_data,omitempty"`
}

// ChannelAuthorizer 为订阅帧生成授权负载，由连接器在发送订阅帧前调用
type ChannelAuthorizer interface {
	Authorize(ctx context.Context, socketID, channel string) (json.RawMessage, error)
}

// Verifier 服务端校验订阅授权
type Verifier interface {
	Verify(ctx context.Context, token string) (*ChannelClaims, error)
}

// SubscriptionVerifier 服务端校验订阅帧负载是否授权给指定连接的指定频道
type SubscriptionVerifier interface {
	VerifySubscription(ctx context.Context, socketID, channel string, payload json.RawMessage) (*ChannelClaims, error)
}

// AuthorizerFunc 函数形式的ChannelAuthorizer
type AuthorizerFunc func(ctx context.Context, socketID, channel string) (json.RawMessage, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, socketID, channel string) (json.RawMessage, error) {
	return f(ctx, socketID, channel)
}

// ParseSubscribePayload 解析订阅帧负载，负载为空时返回ErrInvalidToken
func ParseSubscribePayload(raw json.RawMessage) (*SubscribePayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrInvalidToken
	}
	var p SubscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrInvalidToken
	}
	if p.Auth == "" {
		return nil, ErrInvalidToken
	}
	return &p, nil
}
