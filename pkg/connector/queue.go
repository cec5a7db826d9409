package connector

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/chenxilol/echohub/internal/metrics"
	"github.com/chenxilol/echohub/pkg/protocol"
)

// outbound 一条已编码、尚未写入传输层的帧
type outbound struct {
	event string
	data  []byte
}

// control 订阅类控制帧在重连时由频道注册表重新生成，不随队列迁移
func (o outbound) control() bool {
	return o.event == protocol.EventSubscribe || o.event == protocol.EventUnsubscribe
}

// errQueueRetired 队列内容已迁移到新会话，调用方应改投当前会话的队列
var errQueueRetired = errors.New("send queue retired")

// SendQueue 在连接就绪前缓存出站帧，就绪后按FIFO顺序刷出
//
// 同一时刻只有一个goroutine在锁外调用send，其余提交只追加到队列尾部，
// 由正在发送的goroutine在返回前一并发出。send回调中同步触发的Submit因此不会阻塞。
// 写入失败的帧会留在队列中，并把队列退回到未就绪状态。
type SendQueue struct {
	mu       sync.Mutex
	send     func([]byte) error // 传输层的原始发送原语
	pending  []outbound
	open     bool
	draining bool // 有goroutine正在发送队列中的帧
	inflight bool // 已出队、send尚未返回
	retired  bool
}

func newSendQueue(send func([]byte) error) *SendQueue {
	return &SendQueue{send: send}
}

// Submit 提交一帧：OPEN时立即发送，否则追加到队列，不阻塞等待连接就绪
// 其他goroutine正在发送时，该帧排在其后，由那个goroutine发出
func (q *SendQueue) Submit(event string, data []byte) error {
	q.mu.Lock()
	if q.retired {
		q.mu.Unlock()
		return errQueueRetired
	}

	q.pending = append(q.pending, outbound{event: event, data: data})
	if !q.open {
		metrics.FrameQueued()
		slog.Debug("frame queued", "event", event, "queued", len(q.pending))
	}
	if !q.open || q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	q.mu.Unlock()

	return q.drain()
}

// Flush 在观察到连接就绪时调用：按提交顺序发送全部排队帧
// flush期间提交的帧同样由本次调用发出，返回时队列为空（除非发送失败）
func (q *SendQueue) Flush() error {
	q.mu.Lock()
	if q.retired {
		q.mu.Unlock()
		return nil
	}
	q.open = true
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	n := len(q.pending)
	q.mu.Unlock()

	if err := q.drain(); err != nil {
		return err
	}
	if n > 0 {
		slog.Debug("send queue flushed", "frames", n)
	}
	return nil
}

// drain 由持有draining标记的goroutine调用，逐帧在锁外发送
// 队列关闭或迁移后停止，剩余帧保持原顺序
func (q *SendQueue) drain() error {
	for {
		q.mu.Lock()
		if !q.open || q.retired || len(q.pending) == 0 {
			if len(q.pending) == 0 {
				q.pending = nil
			}
			q.draining = false
			q.mu.Unlock()
			return nil
		}
		f := q.pending[0]
		q.pending = q.pending[1:]
		q.inflight = true
		q.mu.Unlock()

		err := q.send(f.data)
		if err == nil {
			metrics.FrameSent()
			q.mu.Lock()
			q.inflight = false
			q.mu.Unlock()
			continue
		}

		// 传输层已不可用，该帧放回队首等待下一次连接
		q.mu.Lock()
		q.inflight = false
		if !q.retired {
			q.pending = append([]outbound{f}, q.pending...)
		}
		q.open = false
		q.draining = false
		remaining := len(q.pending)
		q.mu.Unlock()

		metrics.SendError()
		slog.Warn("send failed, frames kept in queue", "event", f.event, "remaining", remaining, "error", err)
		return err
	}
}

// Close 传输层关闭后调用，之后的提交重新进入队列
func (q *SendQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.open = false
}

// Len 返回尚未交给传输层的帧数量，包括正在发送的一帧
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight {
		return len(q.pending) + 1
	}
	return len(q.pending)
}

// IsOpen 队列是否处于直接发送状态
func (q *SendQueue) IsOpen() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.open
}

// enqueue 直接追加到队列，仅用于新会话建立前的预填充
func (q *SendQueue) enqueue(frames ...outbound) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, frames...)
}

// takeApplication 取出并清空排队帧，只返回应用帧（丢弃订阅控制帧）
// 之后的Submit返回errQueueRetired
func (q *SendQueue) takeApplication() []outbound {
	q.mu.Lock()
	defer q.mu.Unlock()

	var kept []outbound
	for _, f := range q.pending {
		if !f.control() {
			kept = append(kept, f)
		}
	}
	q.pending = nil
	q.open = false
	q.retired = true
	return kept
}
