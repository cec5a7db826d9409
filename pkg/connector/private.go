package connector

import (
	"log/slog"

	"github.com/chenxilol/echohub/internal/metrics"
	"github.com/chenxilol/echohub/pkg/protocol"
)

// PrivateChannel 私有频道，在基础频道之上增加客户端事件
type PrivateChannel struct {
	*Channel
}

// Listen 同Channel.Listen，返回私有频道以便链式调用
func (p *PrivateChannel) Listen(event string, cb Listener) *PrivateChannel {
	p.Channel.Listen(event, cb)
	return p
}

// StopListening 同Channel.StopListening
func (p *PrivateChannel) StopListening(event string) *PrivateChannel {
	p.Channel.StopListening(event)
	return p
}

// Whisper 在频道上发送客户端事件 client-<event>，不等待确认
// 连接未就绪时帧进入发送队列；data为空时负载写为null
func (p *PrivateChannel) Whisper(event string, data any) *PrivateChannel {
	if err := p.emitter.emit(protocol.ClientEvent(event), p.name, data); err != nil {
		slog.Warn("whisper not sent", "channel", p.name, "event", event, "error", err)
		p.emitter.report(err)
		return p
	}

	metrics.WhisperSent()
	return p
}
