package ipc

import (
	"errors"
	"fmt"
)

// ErrConnectionLost fails every pending and later call on a dead Conn.
var ErrConnectionLost = errors.New("ipc: connection lost")

// ErrUnknownMethod is returned by dispatchers for methods they do not serve.
var ErrUnknownMethod = errors.New("unknown method")

// RemoteCallError is a method failure reported by the peer. The connection
// itself is still healthy.
type RemoteCallError struct {
	Method  string
	Type    string
	Message string
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("remote call %s failed: %s: %s", e.Method, e.Type, e.Message)
}

// IsRemoteCallError reports whether err is or wraps a *RemoteCallError.
func IsRemoteCallError(err error) bool {
	var rce *RemoteCallError
	return errors.As(err, &rce)
}

// TypedError lets handler errors choose the type name sent over the wire.
type TypedError interface {
	error
	ErrorType() string
}

func toWireError(err error) *WireError {
	var te TypedError
	if errors.As(err, &te) {
		return &WireError{Type: te.ErrorType(), Message: err.Error()}
	}
	if errors.Is(err, ErrUnknownMethod) {
		return &WireError{Type: "UnknownMethod", Message: err.Error()}
	}
	return &WireError{Type: "Error", Message: err.Error()}
}
