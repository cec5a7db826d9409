package redis

import (
	"sync/atomic"

	"github.com/chenxilol/echohub/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// publishErrorsCounter 记录发布错误次数
	publishErrorsCounter = promauto.With(metrics.GetRegistry()).NewCounter(
		prometheus.CounterOpts{
			Name: "echohub_bus_redis_publish_errors_total",
			Help: "Redis总线发布错误总数",
		},
	)

	// reconnectsCounter 记录重连次数
	reconnectsCounter = promauto.With(metrics.GetRegistry()).NewCounter(
		prometheus.CounterOpts{
			Name: "echohub_bus_redis_reconnects_total",
			Help: "Redis总线重连次数",
		},
	)
)

func (r *RedisBus) incReconnects() {
	reconnectsCounter.Inc()
	atomic.AddUint64(&r.reconnects, 1)
}

// ReconnectCount 获取重连次数
func (r *RedisBus) ReconnectCount() uint64 {
	return atomic.LoadUint64(&r.reconnects)
}
