package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chenxilol/echohub/pkg/auth"
	"github.com/chenxilol/echohub/pkg/protocol"
)

// 定义错误
var (
	ErrNotSubscribed   = errors.New("client not subscribed to channel")
	ErrPublicWhisper   = errors.New("client events are only allowed on private channels")
	ErrUnauthenticated = errors.New("channel subscription not authorized")
)

func (s *Server) registerHandlers() {
	s.dispatcher.Register(protocol.EventSubscribe, s.handleSubscribe)
	s.dispatcher.Register(protocol.EventUnsubscribe, s.handleUnsubscribe)
	s.dispatcher.RegisterPrefix(protocol.ClientEventPrefix, s.handleClientEvent)
}

func (s *Server) handleSubscribe(ctx context.Context, c *Client, f protocol.Frame) error {
	var member *Member

	if protocol.IsPrivateChannel(f.Channel) {
		m, err := s.authorize(ctx, c, f)
		if err != nil {
			slog.Warn("subscription rejected", "client", c.ID(), "channel", f.Channel, "error", err)
			_ = c.SendFrame(protocol.EventSubscriptionError, f.Channel, map[string]string{"error": err.Error()})
			return err
		}
		member = m
	}

	if !c.join(f.Channel) {
		// 重复订阅
		return nil
	}

	room, firstSeen, err := s.addToRoom(c, f.Channel, member)
	if err != nil {
		return err
	}

	if member == nil {
		return nil
	}

	if err := c.SendFrame(protocol.EventPresenceSubscribed, f.Channel, room.Roster()); err != nil {
		return err
	}
	if firstSeen {
		data, err := protocol.Encode(protocol.EventPresenceJoining, f.Channel, member)
		if err != nil {
			return err
		}
		room.Broadcast(data, c.ID())
	}
	return nil
}

func (s *Server) handleUnsubscribe(_ context.Context, c *Client, f protocol.Frame) error {
	if !c.leave(f.Channel) {
		return nil
	}
	return s.removeFromRoom(c, f.Channel)
}

// handleClientEvent 客户端事件只在私有频道内转发给其他订阅者
func (s *Server) handleClientEvent(_ context.Context, c *Client, f protocol.Frame) error {
	if !protocol.IsPrivateChannel(f.Channel) {
		return fmt.Errorf("%w: %s", ErrPublicWhisper, f.Channel)
	}
	if !c.InChannel(f.Channel) {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, f.Channel)
	}

	room := s.lookupRoom(f.Channel)
	if room == nil {
		return nil
	}

	payload := f.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	data, err := protocol.Encode(f.Event, f.Channel, payload)
	if err != nil {
		return err
	}
	room.Broadcast(data, c.ID())
	return nil
}

// authorize 校验私有/在线状态频道的订阅负载，在线状态频道返回成员记录
func (s *Server) authorize(ctx context.Context, c *Client, f protocol.Frame) (*Member, error) {
	var userID string
	var userInfo json.RawMessage

	if s.verifier != nil {
		claims, err := s.verifier.VerifySubscription(ctx, c.ID(), f.Channel, f.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		userID, userInfo = claims.UserID, claims.UserInfo
	} else if p, err := auth.ParseSubscribePayload(f.Payload); err == nil && p.ChannelData != nil {
		// 未配置密钥时信任客户端声明的成员信息
		userID, userInfo = p.ChannelData.UserID, p.ChannelData.UserInfo
	}

	if !protocol.IsPresenceChannel(f.Channel) {
		return nil, nil
	}

	if userID == "" {
		userID = c.ID()
	}
	if len(userInfo) == 0 {
		userInfo = json.RawMessage("null")
	}
	return &Member{UserID: userID, UserInfo: userInfo}, nil
}

func (s *Server) removeFromRoom(c *Client, channel string) error {
	room := s.lookupRoom(channel)
	if room == nil {
		return nil
	}

	gone, err := room.RemoveClient(c.ID())
	if err != nil {
		return err
	}
	if gone != nil {
		data, err := protocol.Encode(protocol.EventPresenceLeaving, channel, gone)
		if err != nil {
			return err
		}
		room.Broadcast(data, "")
	}

	s.dropIfEmpty(channel)
	return nil
}
