package jstp

import (
	"context"

	"github.com/pkg/errors"
)

// SimpleSessionPolicy buffers every numbered outgoing message until the peer
// answers it or acknowledges it during a session restore. After a transport
// drop it asks the peer to resume the session and resends what the peer has
// not seen.
type SimpleSessionPolicy struct {
	host   SessionHost
	key    string
	data   SessionData
	buffer map[uint64]*Message
}

// NewSimpleSessionPolicy creates a policy that persists its session under
// key, or DefaultSessionKey when key is empty.
func NewSimpleSessionPolicy(key string) *SimpleSessionPolicy {
	if key == "" {
		key = DefaultSessionKey
	}
	return &SimpleSessionPolicy{key: key, buffer: make(map[uint64]*Message)}
}

func (p *SimpleSessionPolicy) Attach(host SessionHost) { p.host = host }

func (p *SimpleSessionPolicy) SessionData() SessionData { return p.data }

// Buffered returns the numbers of the messages awaiting acknowledgement in
// ascending order.
func (p *SimpleSessionPolicy) Buffered() []uint64 {
	return sortedNumbers(p.buffer)
}

func (p *SimpleSessionPolicy) OnMessageSent(m *Message) {
	p.buffer[m.Number()] = m
	if m.Number() > p.data.NumSentMessages {
		p.data.NumSentMessages = m.Number()
	}
}

func (p *SimpleSessionPolicy) OnMessageReceived(m *Message) {
	p.data.NumReceivedMessages++
	switch m.Type() {
	case Callback, Pong:
		p.evict(m.Number(), true)
	}
}

// evict drops buffered messages numbered up to n. With lose set, pending
// callbacks of evicted messages other than n itself are resolved as lost:
// the peer answers in order, so they will never be answered.
func (p *SimpleSessionPolicy) evict(n uint64, lose bool) {
	for _, num := range sortedNumbers(p.buffer) {
		if num > n {
			break
		}
		delete(p.buffer, num)
		if lose && num != n {
			p.host.LoseCallback(num)
		}
	}
}

func (p *SimpleSessionPolicy) Restore(acked uint64) {
	p.evict(acked, false)
	for _, num := range sortedNumbers(p.buffer) {
		p.host.Resend(p.buffer[num])
	}
}

func (p *SimpleSessionPolicy) OnTransportAvailable() {
	if p.data.SessionID == "" {
		p.host.Handshake(p.data.App(), nil)
		return
	}
	data := p.data
	p.host.Handshake(p.data.App(), &data)
}

func (p *SimpleSessionPolicy) OnNewConnection(app AppData, sessionID string, lost []uint64) {
	p.buffer = make(map[uint64]*Message)
	p.data = SessionData{AppName: app.Name, AppVersion: app.Version, SessionID: sessionID}
	for _, num := range lost {
		p.host.LoseCallback(num)
	}
}

func (p *SimpleSessionPolicy) SaveSession(ctx context.Context, s Storage) error {
	buffer := make([]*Message, 0, len(p.buffer))
	for _, num := range sortedNumbers(p.buffer) {
		buffer = append(buffer, p.buffer[num])
	}
	return errors.Wrap(s.Put(ctx, p.key, encodeSession(p.data, buffer)), "save session")
}

// RestoreSession loads a saved session. It is a no-op when nothing was saved.
func (p *SimpleSessionPolicy) RestoreSession(ctx context.Context, s Storage) error {
	raw, err := s.Get(ctx, p.key, nil)
	if err != nil {
		return errors.Wrap(err, "restore session")
	}
	if len(raw) == 0 {
		return nil
	}
	data, buffer, err := decodeSession(raw)
	if err != nil {
		return err
	}
	p.data = data
	p.buffer = make(map[uint64]*Message, len(buffer))
	for _, m := range buffer {
		p.buffer[m.Number()] = m
	}
	return nil
}
