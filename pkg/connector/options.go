package connector

import (
	"net/http"
	"strings"
	"time"

	"github.com/chenxilol/echohub/pkg/auth"
)

// Options 连接器配置
type Options struct {
	Host      string      // 服务端地址，可省略ws://前缀
	Protocols []string    // WebSocket子协议
	Header    http.Header // 额外的握手请求头
	Namespace string      // 事件命名空间，为空时不处理事件名
	Extra     map[string]any

	Transport   TransportConfig
	Dialer      Dialer
	Authorizer  auth.ChannelAuthorizer // 为私有/在线状态频道的订阅帧生成授权负载
	AuthTimeout time.Duration

	// OnError 接收解码失败、监听panic、传输层异常关闭等可恢复错误
	OnError func(err error)
}

// DefaultOptions 返回默认配置
func DefaultOptions(host string) Options {
	return Options{
		Host:        host,
		Transport:   DefaultTransportConfig(),
		AuthTimeout: 10 * time.Second,
	}
}

func (o Options) endpoint() string {
	if strings.Contains(o.Host, "://") {
		return o.Host
	}
	return "ws://" + o.Host
}

func (o Options) dialer() Dialer {
	if o.Dialer != nil {
		return o.Dialer
	}
	return WebSocketDialer{}
}

func (o Options) authTimeout() time.Duration {
	if o.AuthTimeout > 0 {
		return o.AuthTimeout
	}
	return 10 * time.Second
}
