package jstp

import (
	"context"

	"github.com/pkg/errors"
)

// DropSessionPolicy keeps nothing across transport drops. Every reconnect
// starts a fresh session and pending callbacks of the previous one are lost.
type DropSessionPolicy struct {
	host SessionHost
	key  string
	data SessionData
}

// NewDropSessionPolicy creates a policy that persists its session identity
// under key, or DefaultSessionKey when key is empty.
func NewDropSessionPolicy(key string) *DropSessionPolicy {
	if key == "" {
		key = DefaultSessionKey
	}
	return &DropSessionPolicy{key: key}
}

func (p *DropSessionPolicy) Attach(host SessionHost) { p.host = host }

func (p *DropSessionPolicy) SessionData() SessionData { return p.data }

func (p *DropSessionPolicy) OnMessageSent(m *Message) {
	if m.Number() > p.data.NumSentMessages {
		p.data.NumSentMessages = m.Number()
	}
}

func (p *DropSessionPolicy) OnMessageReceived(*Message) {
	p.data.NumReceivedMessages++
}

// Restore is only reached when the peer resumes a session it was not asked
// to resume. The policy starts over instead.
func (p *DropSessionPolicy) Restore(uint64) {
	p.host.Handshake(p.data.App(), nil)
}

func (p *DropSessionPolicy) OnTransportAvailable() {
	p.host.Handshake(p.data.App(), nil)
}

func (p *DropSessionPolicy) OnNewConnection(app AppData, sessionID string, lost []uint64) {
	p.data = SessionData{AppName: app.Name, AppVersion: app.Version, SessionID: sessionID}
	for _, num := range lost {
		p.host.LoseCallback(num)
	}
}

func (p *DropSessionPolicy) SaveSession(ctx context.Context, s Storage) error {
	return errors.Wrap(s.Put(ctx, p.key, encodeSession(p.data, nil)), "save session")
}

func (p *DropSessionPolicy) RestoreSession(ctx context.Context, s Storage) error {
	raw, err := s.Get(ctx, p.key, nil)
	if err != nil {
		return errors.Wrap(err, "restore session")
	}
	if len(raw) == 0 {
		return nil
	}
	data, _, err := decodeSession(raw)
	if err != nil {
		return err
	}
	p.data = data
	return nil
}
