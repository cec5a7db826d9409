package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope 转发到总线的一条频道事件
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Channel    string          `json:"channel"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	SocketID   string          `json:"socket_id,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

func NewEnvelope(channel, event, socketID string, payload json.RawMessage) *Envelope {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return &Envelope{
		ID:         uuid.New(),
		Channel:    channel,
		Event:      event,
		Payload:    payload,
		SocketID:   socketID,
		ReceivedAt: time.Now(),
	}
}

func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Latency 从收到事件到现在的时间
func (e *Envelope) Latency() time.Duration {
	return time.Since(e.ReceivedAt)
}
