package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeErrorKind 解码错误类别
type DecodeErrorKind int

const (
	MalformedJSON DecodeErrorKind = iota + 1 // 不是合法的JSON对象
	MissingField                             // 缺少event、channel或payload
)

func (k DecodeErrorKind) String() string {
	switch k {
	case MalformedJSON:
		return "malformed_json"
	case MissingField:
		return "missing_field"
	default:
		return "unknown"
	}
}

// 可用于 errors.Is 比较的哨兵错误
var (
	ErrMalformedJSON = errors.New("malformed json frame")
	ErrMissingField  = errors.New("frame missing required field")
)

// DecodeError 入站消息解码失败
type DecodeError struct {
	Kind  DecodeErrorKind
	Field string // MissingField 时缺失的字段名
	Err   error  // 底层json错误（如果有）
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case MissingField:
		return fmt.Sprintf("decode frame: missing field %q", e.Field)
	default:
		if e.Err != nil {
			return fmt.Sprintf("decode frame: malformed json: %v", e.Err)
		}
		return "decode frame: malformed json"
	}
}

// Is 让 errors.Is(err, ErrMalformedJSON) 等判断生效
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformedJSON:
		return e.Kind == MalformedJSON
	case ErrMissingField:
		return e.Kind == MissingField
	}
	return false
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode 将事件、频道和负载编码为文本帧
// payload 可以为 nil、json.RawMessage 或任意可序列化的值。
// 只有控制帧会省略payload字段，其余事件的空负载写为 null
func Encode(event, channel string, payload any) ([]byte, error) {
	f := Frame{Event: event, Channel: channel}

	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		f.Payload = p
	case []byte:
		if len(p) > 0 && !json.Valid(p) {
			return nil, fmt.Errorf("encode frame %q: payload is not valid json", event)
		}
		f.Payload = p
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode frame %q: %w", event, err)
		}
		f.Payload = raw
	}

	if len(f.Payload) == 0 && !IsControlEvent(event) {
		f.Payload = nullPayload
	}

	return json.Marshal(f)
}

var nullPayload = json.RawMessage("null")

// Decode 解析入站文本帧，失败时返回 *DecodeError，不会panic
// "payload":null 视为存在；event/channel 不是字符串时按缺失处理
func Decode(raw []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Frame{}, &DecodeError{Kind: MalformedJSON, Err: err}
	}
	if fields == nil {
		// 字面量 null
		return Frame{}, &DecodeError{Kind: MalformedJSON}
	}

	var f Frame
	if err := stringField(fields, "event", &f.Event); err != nil {
		return Frame{}, err
	}
	if err := stringField(fields, "channel", &f.Channel); err != nil {
		return Frame{}, err
	}

	payload, ok := fields["payload"]
	if !ok {
		return Frame{}, &DecodeError{Kind: MissingField, Field: "payload"}
	}
	f.Payload = payload

	return f, nil
}

func stringField(fields map[string]json.RawMessage, name string, dst *string) error {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return &DecodeError{Kind: MissingField, Field: name}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &DecodeError{Kind: MissingField, Field: name, Err: err}
	}
	return nil
}
