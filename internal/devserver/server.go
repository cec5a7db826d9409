// Package devserver 实现同一线路协议的最小服务端，用于本地开发和集成测试
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chenxilol/echohub/internal/metrics"
	"github.com/chenxilol/echohub/internal/websocket"
	"github.com/chenxilol/echohub/pkg/auth"
	"github.com/chenxilol/echohub/pkg/protocol"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
)

// SocketIDHeader 客户端在握手时携带的连接ID
const SocketIDHeader = "X-Socket-Id"

// ErrEmptyChannel 广播请求缺少频道或事件
var ErrEmptyChannel = errors.New("channel and event are required")

// Config 开发服务器配置
type Config struct {
	Addr       string           `mapstructure:"addr"`
	AuthSecret string           `mapstructure:"auth_secret"` // 为空时不校验私有频道授权
	AuthIssuer string           `mapstructure:"auth_issuer"`
	WebSocket  websocket.Config `mapstructure:"websocket"`
}

func DefaultConfig() Config {
	return Config{
		Addr:       ":6001",
		AuthIssuer: "echohub",
		WebSocket:  websocket.DefaultConfig(),
	}
}

// Server 开发服务器
type Server struct {
	cfg        Config
	verifier   auth.SubscriptionVerifier
	dispatcher *Dispatcher
	upgrader   gorilla.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	rooms   map[string]*Room
	clients map[string]*Client

	httpServer *http.Server
}

func New(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:        cfg,
		dispatcher: NewDispatcher(),
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[string]*Room),
		clients: make(map[string]*Client),
	}
	if cfg.AuthSecret != "" {
		s.verifier = auth.NewJWTService(cfg.AuthSecret, cfg.AuthIssuer, 0)
	}

	s.registerHandlers()
	return s
}

// Handler 返回服务器的HTTP路由：/ws、/broadcast、/health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/broadcast", s.handleBroadcast)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start 在cfg.Addr上监听
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting development server", "address", s.cfg.Addr, "auth", s.verifier != nil)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			metrics.RecordCriticalError("devserver_listen")
		}
	}()
	return nil
}

// Shutdown 关闭所有连接并停止HTTP服务
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down development server")
	s.cancel()

	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		_ = c.Close()
	}

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ServeWS 升级连接并注册客户端
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	socketID := r.Header.Get(SocketIDHeader)
	if socketID == "" {
		socketID = uuid.NewString()
	}

	s.mu.RLock()
	_, taken := s.clients[socketID]
	s.mu.RUnlock()
	if taken {
		http.Error(w, "socket id already connected", http.StatusConflict)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade websocket", "error", err, "remoteAddr", r.RemoteAddr)
		return
	}

	c := newClient(socketID)
	// OnOpen先于任何OnMessage调用，等c.conn赋值后再开始处理
	ready := make(chan struct{})
	c.conn = websocket.Attach(s.ctx, websocket.NewGorillaConn(ws), s.cfg.WebSocket, websocket.Handlers{
		OnOpen: func() {
			<-ready
			s.register(c)
		},
		OnMessage: func(data []byte) {
			if err := s.dispatcher.DecodeAndRoute(s.ctx, c, data); err != nil {
				slog.Warn("client frame rejected", "client", c.ID(), "error", err)
			}
		},
		OnClose: func(cause error) {
			s.unregister(c, cause)
		},
	})
	close(ready)
}

// Broadcast 服务端推送：向频道内所有订阅者发送事件，返回接收者数量
func (s *Server) Broadcast(channel, event string, payload any) (int, error) {
	if channel == "" || event == "" {
		return 0, ErrEmptyChannel
	}
	if payload == nil {
		payload = json.RawMessage("null")
	}

	data, err := protocol.Encode(event, channel, payload)
	if err != nil {
		return 0, err
	}

	room := s.lookupRoom(channel)
	if room == nil {
		return 0, nil
	}
	return room.Broadcast(data, ""), nil
}

// Subscribers 频道内连接数
func (s *Server) Subscribers(channel string) int {
	room := s.lookupRoom(channel)
	if room == nil {
		return 0
	}
	return room.ClientCount()
}

// Roster 在线状态频道的成员表
func (s *Server) Roster(channel string) []Member {
	room := s.lookupRoom(channel)
	if room == nil {
		return nil
	}
	return room.Roster()
}

// ClientCount 当前连接数
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Disconnect 服务端主动断开指定连接
func (s *Server) Disconnect(socketID string) bool {
	s.mu.RLock()
	c, ok := s.clients[socketID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	_ = c.Close()
	return true
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	s.clients[c.ID()] = c
	s.mu.Unlock()

	metrics.ServerClientConnected()
	slog.Info("client connected", "client", c.ID())
}

func (s *Server) unregister(c *Client, cause error) {
	s.mu.Lock()
	current, registered := s.clients[c.ID()]
	registered = registered && current == c
	if registered {
		delete(s.clients, c.ID())
	}
	s.mu.Unlock()

	for _, channel := range c.Channels() {
		c.leave(channel)
		if err := s.removeFromRoom(c, channel); err != nil {
			slog.Debug("failed to remove client from channel", "client", c.ID(), "channel", channel, "error", err)
		}
	}

	if registered {
		metrics.ServerClientDisconnected()
	}
	slog.Info("client disconnected", "client", c.ID(), "error", cause)
}

func (s *Server) addToRoom(c *Client, channel string, member *Member) (*Room, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[channel]
	if !ok {
		room = NewRoom(channel)
		s.rooms[channel] = room
	}
	firstSeen, err := room.AddClient(c, member)
	return room, firstSeen, err
}

func (s *Server) lookupRoom(channel string) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[channel]
}

func (s *Server) dropIfEmpty(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[channel]; ok && room.ClientCount() == 0 {
		delete(s.rooms, channel)
	}
}

type broadcastRequest struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// handleBroadcast POST /broadcast {"channel","event","payload"}
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req broadcastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	n, err := s.Broadcast(req.Channel, req.Event, payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{"recipients": n})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	response := map[string]interface{}{
		"status":   "ok",
		"clients":  s.ClientCount(),
		"time":     time.Now().Format(time.RFC3339),
		"channels": s.channelCount(),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to write health check response", "error", err)
	}
}

func (s *Server) channelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
