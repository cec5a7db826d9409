package devserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

// 定义频道相关错误
var (
	ErrClientNotInRoom     = errors.New("client not in room")
	ErrClientAlreadyInRoom = errors.New("client already in room")
)

// Member 在线状态频道的成员记录，线路格式与连接器解析的一致
type Member struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info"`
}

// Room 一个频道的订阅者，在线状态频道额外维护成员表
// 同一用户可以有多个连接，成员表按user_id计数
type Room struct {
	Name string

	mu      sync.RWMutex
	clients map[string]*Client // key=socketID
	users   map[string]string  // socketID -> userID，仅在线状态频道
	refs    map[string]int     // userID -> 连接数
	roster  []Member           // 按加入顺序
}

func NewRoom(name string) *Room {
	return &Room{
		Name:    name,
		clients: make(map[string]*Client),
		users:   make(map[string]string),
		refs:    make(map[string]int),
	}
}

// AddClient 添加订阅者；member非空时同时加入成员表，返回该用户是否首次出现
func (r *Room) AddClient(client *Client, member *Member) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[client.ID()]; exists {
		return false, ErrClientAlreadyInRoom
	}
	r.clients[client.ID()] = client

	firstSeen := false
	if member != nil {
		r.users[client.ID()] = member.UserID
		r.refs[member.UserID]++
		if r.refs[member.UserID] == 1 {
			r.roster = append(r.roster, *member)
			firstSeen = true
		}
	}

	slog.Info("client subscribed",
		"client_id", client.ID(),
		"channel", r.Name,
		"total_clients", len(r.clients))

	return firstSeen, nil
}

// RemoveClient 移除订阅者；若该用户最后一个连接离开，返回其成员记录
func (r *Room) RemoveClient(clientID string) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[clientID]; !exists {
		return nil, ErrClientNotInRoom
	}
	delete(r.clients, clientID)

	slog.Info("client unsubscribed",
		"client_id", clientID,
		"channel", r.Name,
		"remaining_clients", len(r.clients))

	userID, ok := r.users[clientID]
	if !ok {
		return nil, nil
	}
	delete(r.users, clientID)

	r.refs[userID]--
	if r.refs[userID] > 0 {
		return nil, nil
	}
	delete(r.refs, userID)

	for i, m := range r.roster {
		if m.UserID == userID {
			r.roster = append(r.roster[:i], r.roster[i+1:]...)
			return &m, nil
		}
	}
	return nil, nil
}

// Broadcast 向频道内所有客户端发送，跳过excludeClientID，返回成功发送的数量
func (r *Room) Broadcast(data []byte, excludeClientID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for id, client := range r.clients {
		if id == excludeClientID {
			continue
		}
		if err := client.Send(data); err != nil {
			slog.Debug("failed to send message to client in channel",
				"client_id", id,
				"channel", r.Name,
				"error", err)
			continue
		}
		count++
	}

	slog.Debug("broadcast to channel complete",
		"channel", r.Name,
		"recipients", count,
		"excluded", excludeClientID != "")

	return count
}

// Roster 返回成员表副本
func (r *Room) Roster() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, len(r.roster))
	copy(out, r.roster)
	return out
}

// ClientCount 频道内连接数
func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// HasClient 检查客户端是否在频道内
func (r *Room) HasClient(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.clients[clientID]
	return exists
}
