package jstp

import (
	"errors"
	"fmt"

	"github.com/Zereker/jstp/jsrs"
)

// Errors returned by connection operations.
var (
	// ErrInvalidTransport is returned when no transport is provided.
	ErrInvalidTransport = errors.New("jstp: invalid transport")
	// ErrNoApplication is returned when connecting without an application name.
	ErrNoApplication = errors.New("jstp: application name required")
	// ErrNotConnected is returned when sending before any handshake was started.
	ErrNotConnected = errors.New("jstp: not connected")
	// ErrConnectionClosed is returned when operating on a closing or closed connection.
	ErrConnectionClosed = errors.New("jstp: connection closed")
	// ErrCallbackLost is delivered to a callback handler whose message can no
	// longer be answered.
	ErrCallbackLost = errors.New("jstp: callback lost")
	// ErrSessionActive is returned by RestoreSession once a handshake was started.
	ErrSessionActive = errors.New("jstp: session already active")
)

// Error codes carried by error:[code, ...] payloads.
const (
	ErrCodeAppNotFound       = 10
	ErrCodeAuthFailed        = 11
	ErrCodeInterfaceNotFound = 12
	ErrCodeInterfaceIncompat = 13
	ErrCodeMethodNotFound    = 14
	ErrCodeNotAServer        = 15
	ErrCodeInternalAPIError  = 16
)

var errorCodeText = map[int]string{
	ErrCodeAppNotFound:       "application not found",
	ErrCodeAuthFailed:        "authentication failed",
	ErrCodeInterfaceNotFound: "interface not found",
	ErrCodeInterfaceIncompat: "incompatible interface",
	ErrCodeMethodNotFound:    "method not found",
	ErrCodeNotAServer:        "not a server",
	ErrCodeInternalAPIError:  "internal API error",
}

// RemoteError is an error reported by the peer, either in a callback or in a
// handshake response.
type RemoteError struct {
	Code int
	// Args holds the error array as received, including the code.
	Args jsrs.Array
}

func (e *RemoteError) Error() string {
	if text, ok := errorCodeText[e.Code]; ok {
		return fmt.Sprintf("jstp: remote error %d: %s", e.Code, text)
	}
	if len(e.Args) > 1 {
		if s, ok := e.Args[1].(jsrs.String); ok {
			return fmt.Sprintf("jstp: remote error %d: %s", e.Code, string(s))
		}
	}
	return fmt.Sprintf("jstp: remote error %d", e.Code)
}

// newRemoteError builds a RemoteError from an error payload. A missing or
// non-numeric code is reported as code 0.
func newRemoteError(payload jsrs.Value) *RemoteError {
	args, _ := payload.(jsrs.Array)
	e := &RemoteError{Args: args}
	if len(args) > 0 {
		if n, ok := args[0].(jsrs.Number); ok {
			e.Code = int(n)
		}
	}
	return e
}

// ProtocolError reports a received record that violates the protocol. It is
// fatal for the connection.
type ProtocolError struct {
	Raw    string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("jstp: protocol violation: %s: %s", e.Reason, e.Raw)
}
