package jstp

import (
	"github.com/Zereker/jstp/jsrs"
)

// MessageType selects the kind of a protocol message. It is the first key of
// the record on the wire.
type MessageType int

const (
	Handshake MessageType = iota
	Call
	Callback
	Event
	Inspect
	Ping
	Pong
)

var messageTypeKeys = [...]string{
	Handshake: "handshake",
	Call:      "call",
	Callback:  "callback",
	Event:     "event",
	Inspect:   "inspect",
	Ping:      "ping",
	Pong:      "pong",
}

func (t MessageType) String() string {
	if t < 0 || int(t) >= len(messageTypeKeys) {
		return "unknown"
	}
	return messageTypeKeys[t]
}

// ParseMessageType maps a wire key to its MessageType.
func ParseMessageType(key string) (MessageType, bool) {
	for i, k := range messageTypeKeys {
		if k == key {
			return MessageType(i), true
		}
	}
	return 0, false
}

// Message is a single protocol record: {type:[number, args...], payloadKey:payload}.
//
// Only the number may change after construction. The wire text is rendered
// lazily and cached until the number changes.
type Message struct {
	typ        MessageType
	number     uint64
	args       jsrs.Array
	payloadKey string
	payload    jsrs.Value

	cache       string
	cacheNumber uint64
	cached      bool
}

// NewMessage creates a message of the given type. args follow the number in
// the type field, e.g. the interface name of a call.
func NewMessage(typ MessageType, number uint64, args ...jsrs.Value) *Message {
	return &Message{typ: typ, number: number, args: jsrs.Array(args)}
}

// WithPayload sets the second key of the record and returns m.
func (m *Message) WithPayload(key string, value jsrs.Value) *Message {
	m.payloadKey = key
	m.payload = value
	m.cached = false
	return m
}

// Type returns the message type.
func (m *Message) Type() MessageType { return m.typ }

// Number returns the message number, the first field of the type array.
func (m *Message) Number() uint64 { return m.number }

// SetNumber renumbers the message. The cached wire text is re-rendered on the
// next call to String.
func (m *Message) SetNumber(n uint64) { m.number = n }

// Args returns the fields following the number in the type field.
func (m *Message) Args() jsrs.Array { return m.args }

// Interface returns the first argument when it is a string. Calls, events and
// inspects carry the interface name there.
func (m *Message) Interface() string {
	if len(m.args) == 0 {
		return ""
	}
	s, _ := m.args[0].(jsrs.String)
	return string(s)
}

// PayloadKey returns the second key of the record: the method or event
// name, ok or error. It is empty when the record has one key.
func (m *Message) PayloadKey() string { return m.payloadKey }

// Payload returns the value of the second key, or nil when there is none.
func (m *Message) Payload() jsrs.Value { return m.payload }

// PayloadArray returns the payload when it is an array.
func (m *Message) PayloadArray() jsrs.Array {
	arr, _ := m.payload.(jsrs.Array)
	return arr
}

// Object renders the message as a record.
func (m *Message) Object() *jsrs.Object {
	head := make(jsrs.Array, 0, len(m.args)+1)
	head = append(head, jsrs.Number(m.number))
	head = append(head, m.args...)

	obj := jsrs.NewObject()
	obj.Set(m.typ.String(), head)
	if m.payloadKey != "" {
		obj.Set(m.payloadKey, m.payload)
	}
	return obj
}

// String returns the wire text of the message.
func (m *Message) String() string {
	if !m.cached || m.cacheNumber != m.number {
		m.cache = jsrs.Stringify(m.Object())
		m.cacheNumber = m.number
		m.cached = true
	}
	return m.cache
}

// DecodeMessage validates a received record and converts it into a Message.
// The returned error is a *ProtocolError.
func DecodeMessage(obj *jsrs.Object) (*Message, error) {
	if obj.Len() == 0 {
		return nil, violation(obj, "empty record")
	}

	typ, ok := ParseMessageType(obj.KeyAt(0))
	if !ok {
		return nil, violation(obj, "unknown message type "+obj.KeyAt(0))
	}
	head, ok := obj.ValueAt(0).(jsrs.Array)
	if !ok || len(head) == 0 {
		return nil, violation(obj, "type field must be a non-empty array")
	}
	number, ok := messageNumber(head[0])
	if !ok {
		return nil, violation(obj, "message number must be an integer from 0 to 2^53-1")
	}

	m := &Message{typ: typ, number: number, args: head[1:]}
	if obj.Len() > 1 {
		m.payloadKey = obj.KeyAt(1)
		m.payload = obj.ValueAt(1)
	}

	switch typ {
	case Call, Event:
		if m.Interface() == "" {
			return nil, violation(obj, "missing interface name")
		}
		if m.payloadKey == "" {
			return nil, violation(obj, "missing "+typ.String()+" name")
		}
		if _, ok := m.payload.(jsrs.Array); !ok {
			return nil, violation(obj, "arguments must be an array")
		}
	case Inspect:
		if m.Interface() == "" {
			return nil, violation(obj, "missing interface name")
		}
	case Callback:
		if m.payloadKey != "ok" && m.payloadKey != "error" {
			return nil, violation(obj, "callback needs ok or error")
		}
		if _, ok := m.payload.(jsrs.Array); !ok {
			return nil, violation(obj, "callback result must be an array")
		}
	case Handshake:
		switch m.payloadKey {
		case "ok":
			switch v := m.payload.(type) {
			case jsrs.String:
			case jsrs.Number:
				if _, ok := messageNumber(v); !ok {
					return nil, violation(obj, "acknowledged count must be an integer from 0 to 2^53-1")
				}
			default:
				return nil, violation(obj, "handshake ok must be a session id or a count")
			}
		case "error":
			if _, ok := m.payload.(jsrs.Array); !ok {
				return nil, violation(obj, "handshake error must be an array")
			}
		default:
			return nil, violation(obj, "handshake response needs ok or error")
		}
	}
	return m, nil
}

// MaxMessageNumber is the largest message number a peer may send. Numbers
// travel as float64, which holds integers exactly only up to 2^53.
const MaxMessageNumber = 1<<53 - 1

// messageNumber converts a wire number into a message number.
func messageNumber(v jsrs.Value) (uint64, bool) {
	n, ok := v.(jsrs.Number)
	if !ok || !n.IsInteger() || n < 0 || n > MaxMessageNumber {
		return 0, false
	}
	return uint64(n), true
}

func violation(obj *jsrs.Object, reason string) *ProtocolError {
	return &ProtocolError{Raw: jsrs.Stringify(obj), Reason: reason}
}
