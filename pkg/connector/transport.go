package connector

import (
	"context"
	"net/http"

	"github.com/chenxilol/echohub/internal/websocket"
)

// SocketIDHeader 拨号时携带连接ID的请求头，服务端据此校验频道授权
const SocketIDHeader = "X-Socket-Id"

// TransportConfig 底层WebSocket连接参数
type TransportConfig = websocket.Config

// DefaultTransportConfig 返回默认连接参数
func DefaultTransportConfig() TransportConfig {
	return websocket.DefaultConfig()
}

// Transport 一次连接对应的传输句柄
type Transport interface {
	Send(data []byte) error
	Close() error
}

// TransportEvents 传输层生命周期回调
// OnClose只调用一次，本端主动关闭时cause为nil
type TransportEvents struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(cause error)
}

// DialRequest 一次拨号的参数
type DialRequest struct {
	URL       string
	Protocols []string
	Header    http.Header
	SocketID  string
	Config    TransportConfig
	Extra     map[string]any // 未识别的配置项，原样传给拨号器
}

// Dialer 建立传输连接；Dial可以在握手完成前返回，结果通过TransportEvents通知
type Dialer interface {
	Dial(ctx context.Context, req DialRequest, events TransportEvents) (Transport, error)
}

// DialerFunc 函数形式的Dialer
type DialerFunc func(ctx context.Context, req DialRequest, events TransportEvents) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, req DialRequest, events TransportEvents) (Transport, error) {
	return f(ctx, req, events)
}

// WebSocketDialer 基于gorilla/websocket的默认拨号器
type WebSocketDialer struct{}

func (WebSocketDialer) Dial(ctx context.Context, req DialRequest, events TransportEvents) (Transport, error) {
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if req.SocketID != "" {
		header.Set(SocketIDHeader, req.SocketID)
	}

	conn := websocket.Dial(ctx, websocket.DialOptions{
		URL:       req.URL,
		Protocols: req.Protocols,
		Header:    header,
	}, req.Config, websocket.Handlers{
		OnOpen:    events.OnOpen,
		OnMessage: events.OnMessage,
		OnClose:   events.OnClose,
	})
	return conn, nil
}

var _ Dialer = WebSocketDialer{}
