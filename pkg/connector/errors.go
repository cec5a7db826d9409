package connector

import "errors"

// 定义错误
var (
	ErrNoHost            = errors.New("connector host not configured")
	ErrReservedEvent     = errors.New("event name is reserved for presence channels")
	ErrMalformedPresence = errors.New("malformed presence payload")
	ErrListenerPanic     = errors.New("channel listener panicked")
	ErrTransportClosed   = errors.New("transport closed unexpectedly")
	ErrAuthorization     = errors.New("channel authorization failed")
)
