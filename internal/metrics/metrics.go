// Package metrics 提供监控指标收集功能
package metrics

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once           sync.Once
	registry       *prometheus.Registry
	defaultMetrics *Metrics
)

// Metrics 封装所有监控指标
type Metrics struct {
	// 连接指标
	ConnectionsOpened prometheus.Counter
	ConnectionsClosed prometheus.Counter
	ConnectionState   prometheus.Gauge

	// 帧指标
	FramesSent     prometheus.Counter
	FramesQueued   prometheus.Counter
	FramesReceived prometheus.Counter
	FrameSize      prometheus.Histogram
	DecodeErrors   *prometheus.CounterVec
	SendErrors     prometheus.Counter

	// 频道指标
	ActiveChannels    prometheus.Gauge
	Whispers          prometheus.Counter
	UnknownChannel    prometheus.Counter
	ListenerPanics    prometheus.Counter
	PresenceMalformed prometheus.Counter

	// 转发指标
	RelayPublished     prometheus.Counter
	RelayPublishErrors prometheus.Counter

	// 开发服务器指标
	ServerClients prometheus.Gauge

	// 错误指标
	CriticalErrorsTotal prometheus.Counter
}

// NewMetrics 创建新的Metrics实例
func NewMetrics(namespace string) *Metrics {
	registry = prometheus.NewRegistry()
	f := promauto.With(registry)

	return &Metrics{
		ConnectionsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "传输层进入OPEN状态的次数",
		}),
		ConnectionsClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "传输层关闭的次数",
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "当前连接状态(0=disconnected,1=connecting,2=open,3=closed)",
		}),

		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "写入传输层的帧总数",
		}),
		FramesQueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_queued_total",
			Help:      "连接就绪前进入发送队列的帧总数",
		}),
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "收到的入站帧总数",
		}),
		FrameSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_size_bytes",
			Help:      "入站帧大小分布",
			Buckets:   []float64{64, 256, 1024, 4096, 16384, 65536, 262144},
		}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "入站帧解码失败次数",
		}, []string{"kind"}),
		SendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "写入传输层失败次数",
		}),

		ActiveChannels: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_channels",
			Help:      "当前注册的频道数",
		}),
		Whispers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "whispers_total",
			Help:      "客户端事件发送次数",
		}),
		UnknownChannel: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_channel_frames_total",
			Help:      "目标频道未注册而被忽略的帧",
		}),
		ListenerPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_panics_total",
			Help:      "监听回调panic次数",
		}),
		PresenceMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_malformed_total",
			Help:      "无法解析的成员事件负载",
		}),

		RelayPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_published_total",
			Help:      "转发到消息总线的事件数",
		}),
		RelayPublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publish_errors_total",
			Help:      "转发到消息总线失败次数",
		}),

		ServerClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devserver_clients",
			Help:      "开发服务器当前连接数",
		}),

		CriticalErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "critical_errors_total",
			Help:      "严重错误总数",
		}),
	}
}

// GetRegistry 获取Prometheus注册表
func GetRegistry() *prometheus.Registry {
	Default()
	return registry
}

// Default 获取默认指标实例
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = NewMetrics("echohub")
	})
	return defaultMetrics
}

// 便捷方法，用于快速记录指标

// ConnectionOpened 记录传输层就绪
func ConnectionOpened() {
	Default().ConnectionsOpened.Inc()
}

// ConnectionClosed 记录传输层关闭
func ConnectionClosed() {
	Default().ConnectionsClosed.Inc()
}

// SetConnectionState 记录当前连接状态
func SetConnectionState(state int) {
	Default().ConnectionState.Set(float64(state))
}

// FrameSent 记录发送帧
func FrameSent() {
	Default().FramesSent.Inc()
}

// FrameQueued 记录排队帧
func FrameQueued() {
	Default().FramesQueued.Inc()
}

// FrameReceived 记录收到帧
func FrameReceived(sizeBytes float64) {
	m := Default()
	m.FramesReceived.Inc()
	m.FrameSize.Observe(sizeBytes)
}

// DecodeError 记录解码失败
func DecodeError(kind string) {
	Default().DecodeErrors.WithLabelValues(kind).Inc()
}

// SendError 记录写入失败
func SendError() {
	Default().SendErrors.Inc()
}

// ChannelAdded 记录频道注册
func ChannelAdded() {
	Default().ActiveChannels.Inc()
}

// ChannelRemoved 记录频道移除
func ChannelRemoved() {
	Default().ActiveChannels.Dec()
}

// WhisperSent 记录客户端事件
func WhisperSent() {
	Default().Whispers.Inc()
}

// UnknownChannelFrame 记录发往未注册频道的帧
func UnknownChannelFrame() {
	Default().UnknownChannel.Inc()
}

// ListenerPanic 记录监听回调panic
func ListenerPanic() {
	Default().ListenerPanics.Inc()
}

// PresenceMalformed 记录无法解析的成员负载
func PresenceMalformed() {
	Default().PresenceMalformed.Inc()
}

// RelayPublished 记录转发成功
func RelayPublished() {
	Default().RelayPublished.Inc()
}

// RelayPublishError 记录转发失败
func RelayPublishError() {
	Default().RelayPublishErrors.Inc()
}

// ServerClientConnected 记录开发服务器新连接
func ServerClientConnected() {
	Default().ServerClients.Inc()
}

// ServerClientDisconnected 记录开发服务器断开
func ServerClientDisconnected() {
	Default().ServerClients.Dec()
}

// RecordCriticalError 记录严重错误
func RecordCriticalError(errorType string) {
	Default().CriticalErrorsTotal.Inc()

	// 记录在日志中，便于排查
	slog.Error("critical error encountered", "type", errorType)
}
