package jstp

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/Zereker/jstp/jsrs"
)

// DefaultSessionKey is the storage key used when a policy is created with an
// empty key.
const DefaultSessionKey = "jstp.session"

// AppData identifies the remote application a connection talks to.
type AppData struct {
	Name    string
	Version string
}

// SessionData is the identity and counters of an established session.
type SessionData struct {
	AppName    string
	AppVersion string
	SessionID  string
	// NumSentMessages is the highest number assigned to an outgoing message
	// in this session.
	NumSentMessages uint64
	// NumReceivedMessages counts the non-handshake messages received in
	// this session.
	NumReceivedMessages uint64
}

// App returns the application identity of the session.
func (d SessionData) App() AppData {
	return AppData{Name: d.AppName, Version: d.AppVersion}
}

// SessionHost is the part of the Connection a policy may drive. Calls are
// made while the Connection holds its lock.
type SessionHost interface {
	// Resend writes an already numbered message to the transport.
	Resend(m *Message)
	// Handshake sends a handshake for app. A non-nil restore asks the peer
	// to resume that session.
	Handshake(app AppData, restore *SessionData)
	// LoseCallback resolves the callback handler registered under number,
	// if any, with ErrCallbackLost.
	LoseCallback(number uint64)
}

// SessionPolicy decides what survives a transport drop. All methods except
// SaveSession and RestoreSession are called with the Connection lock held
// and must not block.
type SessionPolicy interface {
	Attach(host SessionHost)
	SessionData() SessionData
	// OnMessageSent is called for every numbered outgoing message, including
	// those queued while the transport is down.
	OnMessageSent(m *Message)
	// OnMessageReceived is called for every received non-handshake message.
	OnMessageReceived(m *Message)
	// Restore is called after the peer resumed the session and acknowledged
	// acked messages.
	Restore(acked uint64)
	// OnTransportAvailable is called when the transport (re)connects and a
	// session identity is known.
	OnTransportAvailable()
	// OnNewConnection is called after a fresh handshake. lost lists the
	// callback numbers still pending from the previous session.
	OnNewConnection(app AppData, sessionID string, lost []uint64)
	SaveSession(ctx context.Context, s Storage) error
	RestoreSession(ctx context.Context, s Storage) error
}

// encodeSession renders session data and buffered messages as a record.
func encodeSession(data SessionData, buffer []*Message) []byte {
	msgs := make(jsrs.Array, len(buffer))
	for i, m := range buffer {
		msgs[i] = m.Object()
	}
	obj := jsrs.NewObjectFromPairs(
		jsrs.Pair{Key: "appName", Value: jsrs.String(data.AppName)},
		jsrs.Pair{Key: "appVersion", Value: jsrs.String(data.AppVersion)},
		jsrs.Pair{Key: "sessionId", Value: jsrs.String(data.SessionID)},
		jsrs.Pair{Key: "numSent", Value: jsrs.Number(data.NumSentMessages)},
		jsrs.Pair{Key: "numReceived", Value: jsrs.Number(data.NumReceivedMessages)},
		jsrs.Pair{Key: "buffer", Value: msgs},
	)
	return []byte(jsrs.Stringify(obj))
}

// decodeSession is the inverse of encodeSession.
func decodeSession(raw []byte) (SessionData, []*Message, error) {
	var data SessionData
	obj, err := jsrs.ParseObject(string(raw))
	if err != nil {
		return data, nil, errors.Wrap(err, "decode session")
	}

	str := func(key string) (string, error) {
		v, _ := obj.Get(key)
		s, ok := v.(jsrs.String)
		if !ok {
			return "", errors.Errorf("decode session: %s must be a string", key)
		}
		return string(s), nil
	}
	count := func(key string) (uint64, error) {
		v, _ := obj.Get(key)
		n, ok := v.(jsrs.Number)
		if !ok || !n.IsInteger() || n < 0 {
			return 0, errors.Errorf("decode session: %s must be a count", key)
		}
		return uint64(n), nil
	}

	if data.AppName, err = str("appName"); err != nil {
		return data, nil, err
	}
	if data.AppVersion, err = str("appVersion"); err != nil {
		return data, nil, err
	}
	if data.SessionID, err = str("sessionId"); err != nil {
		return data, nil, err
	}
	if data.NumSentMessages, err = count("numSent"); err != nil {
		return data, nil, err
	}
	if data.NumReceivedMessages, err = count("numReceived"); err != nil {
		return data, nil, err
	}

	v, ok := obj.Get("buffer")
	if !ok {
		return data, nil, nil
	}
	arr, ok := v.(jsrs.Array)
	if !ok {
		return data, nil, errors.New("decode session: buffer must be an array")
	}
	buffer := make([]*Message, 0, len(arr))
	for i, item := range arr {
		rec, ok := item.(*jsrs.Object)
		if !ok {
			return data, nil, errors.Errorf("decode session: buffer[%d] is not a record", i)
		}
		m, err := DecodeMessage(rec)
		if err != nil {
			return data, nil, errors.Wrapf(err, "decode session: buffer[%d]", i)
		}
		buffer = append(buffer, m)
	}
	return data, buffer, nil
}

func sortedNumbers(m map[uint64]*Message) []uint64 {
	out := make([]uint64, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
