package jstp

// State is the lifecycle state of a Connection.
type State int

const (
	// AwaitingHandshake is the initial state: no handshake was sent yet on the
	// current transport, and no session is known.
	AwaitingHandshake State = iota
	// AwaitingHandshakeResponse means a handshake was sent and its response
	// is pending.
	AwaitingHandshakeResponse
	// Connected means the session is established and messages flow.
	Connected
	// AwaitingReconnect means the transport dropped while a session is known.
	// Outgoing messages are handed to the session policy until the transport
	// comes back.
	AwaitingReconnect
	// Closing means the connection is being shut down.
	Closing
	// Closed is terminal.
	Closed
)

var stateNames = [...]string{
	AwaitingHandshake:         "awaiting_handshake",
	AwaitingHandshakeResponse: "awaiting_handshake_response",
	Connected:                 "connected",
	AwaitingReconnect:         "awaiting_reconnect",
	Closing:                   "closing",
	Closed:                    "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
