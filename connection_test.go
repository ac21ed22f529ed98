package jstp

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/jstp/jsrs"
)

// mockTransport records sent frames and lets tests drive the listener.
type mockTransport struct {
	mu        sync.Mutex
	listener  TransportListener
	connected bool
	sent      []string
	closes    []bool
	clears    int
}

func (m *mockTransport) SetListener(l TransportListener) { m.listener = l }

func (m *mockTransport) Connect() error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.connected = true
	m.mu.Unlock()
	m.listener.OnConnected()
	return nil
}

func (m *mockTransport) Send(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		m.sent = append(m.sent, text)
	}
}

func (m *mockTransport) Close(forced bool) error {
	m.mu.Lock()
	m.closes = append(m.closes, forced)
	was := m.connected
	m.connected = false
	m.mu.Unlock()
	if was {
		m.listener.OnConnectionClosed(nil)
	}
	return nil
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) ClearQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
}

func (m *mockTransport) clearCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// drop simulates the link going away.
func (m *mockTransport) drop() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.listener.OnConnectionClosed(nil)
}

func (m *mockTransport) receive(t *testing.T, text string) {
	t.Helper()
	_ = DeliverFrame(m.listener, text)
}

// takeSent returns the frames sent since the last call.
func (m *mockTransport) takeSent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sent
	m.sent = nil
	return out
}

func (m *mockTransport) closeCalls() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.closes...)
}

var testApp = AppData{Name: "testApp", Version: "1.0"}

type recorder struct {
	mu        sync.Mutex
	connected []bool
	rejected  []string
	errs      []error
	closed    int
}

func (r *recorder) options() []Option {
	return []Option{
		OnConnectedOption(func(restored bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.connected = append(r.connected, restored)
		}),
		OnRejectedOption(func(raw string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.rejected = append(r.rejected, raw)
		}),
		OnErrorOption(func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		}),
		OnClosedOption(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closed++
		}),
	}
}

func newTestConnection(t *testing.T, opt ...Option) (*Connection, *mockTransport, *recorder) {
	t.Helper()
	tr := &mockTransport{}
	rec := &recorder{}
	opts := append([]Option{LoggerOption(NopLogger())}, rec.options()...)
	c, err := New(tr, append(opts, opt...)...)
	require.NoError(t, err)
	return c, tr, rec
}

// establish performs a fresh handshake and clears the sent frames.
func establish(t *testing.T, c *Connection, tr *mockTransport, sid string) {
	t.Helper()
	require.NoError(t, c.Connect(testApp))
	require.Equal(t, []string{"{handshake:[0,'testApp','1.0']}"}, tr.takeSent())
	require.Equal(t, AwaitingHandshakeResponse, c.State())
	tr.receive(t, "{handshake:[0],ok:'"+sid+"'}")
	require.Equal(t, Connected, c.State())
}

type callbackResult struct {
	result jsrs.Array
	err    error
}

type callbackSink struct {
	mu    sync.Mutex
	calls []callbackResult
}

func (s *callbackSink) handler() CallbackHandler {
	return func(result jsrs.Array, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls = append(s.calls, callbackResult{result: result, err: err})
	}
}

func (s *callbackSink) results() []callbackResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]callbackResult(nil), s.calls...)
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidTransport)
}

func TestConnectRequiresApplication(t *testing.T) {
	c, _, _ := newTestConnection(t)
	assert.ErrorIs(t, c.Connect(AppData{}), ErrNoApplication)
}

func TestFreshHandshake(t *testing.T) {
	var states []State
	c, tr, rec := newTestConnection(t, OnStateChangeOption(func(_, to State) {
		states = append(states, to)
	}))

	assert.Equal(t, AwaitingHandshake, c.State())
	establish(t, c, tr, "8f2a")

	assert.Equal(t, []bool{false}, rec.connected)
	assert.Equal(t, []State{AwaitingHandshakeResponse, Connected}, states)
	assert.Equal(t, SessionData{AppName: "testApp", AppVersion: "1.0", SessionID: "8f2a"}, c.SessionData())
}

func TestConnectWithLogin(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	require.NoError(t, c.ConnectWithLogin(testApp, "marcus", "secret"))
	assert.Equal(t, []string{"{handshake:[0,'testApp','1.0'],login:['marcus','secret']}"}, tr.takeSent())
}

func TestNumberingStartsAtOneAfterFreshHandshake(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")

	require.NoError(t, c.Call("auth", "signIn", jsrs.Array{jsrs.String("a")}, nil))
	require.NoError(t, c.Event("chat", "message", jsrs.Array{jsrs.String("hi")}))
	require.NoError(t, c.Ping(nil))
	require.NoError(t, c.Inspect("auth", nil))

	assert.Equal(t, []string{
		"{call:[1,'auth'],signIn:['a']}",
		"{event:[2,'chat'],message:['hi']}",
		"{ping:[3]}",
		"{inspect:[4,'auth']}",
	}, tr.takeSent())
	assert.Equal(t, uint64(4), c.SessionData().NumSentMessages)
}

func TestCallbackResolvesOnce(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")

	sink := &callbackSink{}
	require.NoError(t, c.Call("calc", "add", jsrs.Array{jsrs.Number(1), jsrs.Number(2)}, sink.handler()))
	tr.receive(t, "{callback:[1],ok:[3]}")
	tr.receive(t, "{callback:[1],ok:[3]}")

	results := sink.results()
	require.Len(t, results, 1)
	assert.NoError(t, results[0].err)
	assert.True(t, jsrs.Equal(jsrs.Array{jsrs.Number(3)}, results[0].result))
	assert.Equal(t, Connected, c.State())
}

func TestCallbackError(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")

	sink := &callbackSink{}
	require.NoError(t, c.Call("calc", "div", nil, sink.handler()))
	tr.receive(t, "{callback:[1],error:[14,'no such method']}")

	results := sink.results()
	require.Len(t, results, 1)
	var remote *RemoteError
	require.True(t, errors.As(results[0].err, &remote))
	assert.Equal(t, ErrCodeMethodNotFound, remote.Code)
}

func TestCallbackLosesSkippedHandlers(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")

	sinks := []*callbackSink{{}, {}, {}}
	for _, s := range sinks {
		require.NoError(t, c.Call("auth", "signIn", nil, s.handler()))
	}
	tr.receive(t, "{callback:[2],ok:['done']}")

	first := sinks[0].results()
	require.Len(t, first, 1)
	assert.ErrorIs(t, first[0].err, ErrCallbackLost)

	second := sinks[1].results()
	require.Len(t, second, 1)
	assert.NoError(t, second[0].err)

	assert.Empty(t, sinks[2].results())
}

func TestPingPong(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")

	sink := &callbackSink{}
	require.NoError(t, c.Ping(sink.handler()))
	assert.Equal(t, []string{"{ping:[1]}"}, tr.takeSent())

	tr.receive(t, "{pong:[1]}")
	results := sink.results()
	require.Len(t, results, 1)
	assert.NoError(t, results[0].err)
	assert.Nil(t, results[0].result)
}

func TestInboundCallAndReentrantCallback(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")

	c.SetCallHandler("calc", "add", func(number uint64, args jsrs.Array) {
		sum := jsrs.Number(0)
		for _, a := range args {
			sum += a.(jsrs.Number)
		}
		assert.NoError(t, c.Callback(number, true, jsrs.Array{sum}))
	})
	tr.receive(t, "{call:[7,'calc'],add:[1,2]}")

	assert.Equal(t, []string{"{callback:[7],ok:[3]}"}, tr.takeSent())
	assert.Equal(t, uint64(1), c.SessionData().NumReceivedMessages)
	assert.Equal(t, uint64(0), c.SessionData().NumSentMessages, "replies are not numbered")
}

func TestInboundCallWithoutHandlerIsIgnored(t *testing.T) {
	c, tr, rec := newTestConnection(t)
	establish(t, c, tr, "sid")

	tr.receive(t, "{call:[1,'missing'],method:[]}")
	assert.Equal(t, Connected, c.State())
	assert.Empty(t, tr.takeSent())
	assert.Empty(t, rec.rejected)
}

func TestInboundEventRunsAllHandlers(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")

	var order []string
	c.AddEventHandler("chat", "message", func(args jsrs.Array) {
		order = append(order, "first:"+string(args[0].(jsrs.String)))
	})
	c.AddEventHandler("chat", "message", func(args jsrs.Array) {
		order = append(order, "second:"+string(args[0].(jsrs.String)))
	})
	tr.receive(t, "{event:[1,'chat'],message:['hi']}")
	assert.Equal(t, []string{"first:hi", "second:hi"}, order)

	c.RemoveEventHandlers("chat", "message")
	tr.receive(t, "{event:[2,'chat'],message:['again']}")
	assert.Len(t, order, 2)
}

func TestInboundInspect(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")

	noop := func(uint64, jsrs.Array) {}
	c.SetCallHandler("calc", "sub", noop)
	c.SetCallHandler("calc", "add", noop)

	tr.receive(t, "{inspect:[4,'calc']}")
	tr.receive(t, "{inspect:[5,'storage']}")
	assert.Equal(t, []string{
		"{callback:[4],ok:['add','sub']}",
		"{callback:[5],error:[12]}",
	}, tr.takeSent())

	c.RemoveCallHandler("calc", "add")
	c.RemoveCallHandler("calc", "sub")
	tr.receive(t, "{inspect:[6,'calc']}")
	assert.Equal(t, []string{"{callback:[6],error:[12]}"}, tr.takeSent())
}

func TestInboundPing(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")

	tr.receive(t, "{ping:[9]}")
	assert.Equal(t, []string{"{pong:[9]}"}, tr.takeSent())
}

func TestHeartbeatNeverRejected(t *testing.T) {
	c, tr, rec := newTestConnection(t)

	require.NoError(t, c.Connect(testApp))
	tr.receive(t, "{}")
	assert.Equal(t, AwaitingHandshakeResponse, c.State())

	tr.receive(t, "{handshake:[0],ok:'sid'}")
	tr.receive(t, "{}")
	assert.Equal(t, Connected, c.State())
	assert.Empty(t, rec.rejected)
	assert.Equal(t, uint64(0), c.SessionData().NumReceivedMessages)
}

func TestRejections(t *testing.T) {
	cases := []struct {
		name      string
		handshake bool
		input     string
	}{
		{"call before handshake", false, "{call:[1,'calc'],add:[]}"},
		{"unknown type", true, "{login:[1]}"},
		{"number not numeric", true, "{call:['x','calc'],add:[]}"},
		{"args not array", true, "{call:[1,'calc'],add:'x'}"},
		{"callback without ok", true, "{callback:[1],maybe:[]}"},
		{"number too large", true, "{callback:[1e20],ok:[]}"},
		{"not an object", true, "[1,2]"},
		{"unparsable", true, "{call:"},
		{"handshake while connected", true, "{handshake:[0],ok:'again'}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, tr, rec := newTestConnection(t)
			sink := &callbackSink{}
			if tc.handshake {
				establish(t, c, tr, "sid")
				require.NoError(t, c.Call("calc", "add", nil, sink.handler()))
			} else {
				require.NoError(t, c.Connect(testApp))
			}

			tr.receive(t, tc.input)

			assert.Equal(t, Closed, c.State())
			assert.Equal(t, []bool{true}, tr.closeCalls(), "transport force-closed")
			require.Len(t, rec.rejected, 1)
			require.Len(t, rec.errs, 1)
			var perr *ProtocolError
			assert.True(t, errors.As(rec.errs[0], &perr))
			assert.Equal(t, 1, rec.closed)
			if tc.handshake {
				results := sink.results()
				require.Len(t, results, 1)
				assert.ErrorIs(t, results[0].err, ErrCallbackLost)
			}

			tr.receive(t, tc.input)
			assert.Len(t, rec.rejected, 1, "closed connection ignores input")
		})
	}
}

func TestHandshakeIgnoredOnClosedTransport(t *testing.T) {
	c, tr, rec := newTestConnection(t)
	establish(t, c, tr, "sid")

	tr.mu.Lock()
	tr.connected = false
	tr.mu.Unlock()
	tr.receive(t, "{handshake:[0],ok:'late'}")

	assert.Empty(t, rec.rejected)
	assert.Equal(t, "sid", c.SessionData().SessionID)
}

func TestHandshakeError(t *testing.T) {
	c, tr, rec := newTestConnection(t)
	require.NoError(t, c.ConnectWithLogin(testApp, "marcus", "wrong"))
	tr.takeSent()

	tr.receive(t, "{handshake:[0],error:[11]}")

	assert.Equal(t, AwaitingHandshake, c.State())
	assert.Equal(t, []bool{true}, tr.closeCalls())
	assert.Equal(t, 1, tr.clearCalls(), "queued frames discarded")
	require.Len(t, rec.errs, 1)
	var remote *RemoteError
	require.True(t, errors.As(rec.errs[0], &remote))
	assert.Equal(t, ErrCodeAuthFailed, remote.Code)
	assert.Empty(t, rec.connected)

	require.NoError(t, c.ConnectWithLogin(testApp, "marcus", "right"))
	assert.Equal(t, []string{"{handshake:[0,'testApp','1.0'],login:['marcus','right']}"}, tr.takeSent())
}

func TestRestoreResendsUnacknowledgedInOrder(t *testing.T) {
	c, tr, rec := newTestConnection(t)
	establish(t, c, tr, "sid")

	for _, arg := range []string{"a", "b", "c"} {
		require.NoError(t, c.Call("auth", "signIn", jsrs.Array{jsrs.String(arg)}, nil))
	}
	tr.receive(t, "{event:[1,'chat'],message:['hi']}")
	tr.takeSent()

	tr.drop()
	assert.Equal(t, AwaitingReconnect, c.State())

	require.NoError(t, c.Call("auth", "signIn", jsrs.Array{jsrs.String("d")}, nil))
	assert.Empty(t, tr.takeSent(), "nothing reaches a dropped transport")

	require.NoError(t, tr.Connect())
	assert.Equal(t, []string{"{handshake:[0,'testApp','1.0'],session:['sid',1]}"}, tr.takeSent())

	tr.receive(t, "{handshake:[0],ok:1}")
	assert.Equal(t, Connected, c.State())
	assert.Equal(t, []string{
		"{call:[2,'auth'],signIn:['b']}",
		"{call:[3,'auth'],signIn:['c']}",
		"{call:[4,'auth'],signIn:['d']}",
	}, tr.takeSent())
	assert.Equal(t, []bool{false, true}, rec.connected)

	require.NoError(t, c.Ping(nil))
	assert.Equal(t, []string{"{ping:[5]}"}, tr.takeSent())
}

func TestRestoreContinuesFromAckedCount(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")
	require.NoError(t, c.Ping(nil))

	tr.drop()
	require.NoError(t, tr.Connect())
	tr.takeSent()
	tr.receive(t, "{handshake:[0],ok:7}")

	require.NoError(t, c.Ping(nil))
	assert.Equal(t, []string{"{ping:[8]}"}, tr.takeSent())
}

func TestSendWhileRestoring(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")

	tr.drop()
	require.NoError(t, tr.Connect())
	tr.takeSent()
	require.Equal(t, AwaitingHandshakeResponse, c.State())

	require.NoError(t, c.Event("chat", "message", jsrs.Array{jsrs.String("queued")}))
	assert.Empty(t, tr.takeSent())

	tr.receive(t, "{handshake:[0],ok:0}")
	assert.Equal(t, []string{"{event:[1,'chat'],message:['queued']}"}, tr.takeSent())
}

func TestFailedRestoreStartsOver(t *testing.T) {
	c, tr, rec := newTestConnection(t)
	establish(t, c, tr, "sid")
	sink := &callbackSink{}
	require.NoError(t, c.Call("auth", "signIn", nil, sink.handler()))

	tr.drop()
	require.NoError(t, tr.Connect())
	tr.takeSent()
	tr.receive(t, "{handshake:[0],error:[10]}")

	assert.Equal(t, AwaitingHandshake, c.State())
	assert.Equal(t, "", c.SessionData().SessionID)
	assert.Equal(t, 1, tr.clearCalls())
	require.Len(t, sink.results(), 1)
	assert.ErrorIs(t, sink.results()[0].err, ErrCallbackLost)
	require.Len(t, rec.errs, 1)

	require.NoError(t, tr.Connect())
	assert.Equal(t, []string{"{handshake:[0,'testApp','1.0']}"}, tr.takeSent())
}

func TestDropPolicyReconnectLosesHandlers(t *testing.T) {
	c, tr, rec := newTestConnection(t, SessionPolicyOption(NewDropSessionPolicy("")))
	establish(t, c, tr, "sid")

	sink := &callbackSink{}
	require.NoError(t, c.Call("auth", "signIn", nil, sink.handler()))
	tr.takeSent()

	tr.drop()
	assert.Equal(t, AwaitingReconnect, c.State())
	require.NoError(t, tr.Connect())
	assert.Equal(t, []string{"{handshake:[0,'testApp','1.0']}"}, tr.takeSent())
	assert.Empty(t, sink.results())

	tr.receive(t, "{handshake:[0],ok:'sid-2'}")
	results := sink.results()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].err, ErrCallbackLost)
	assert.Equal(t, []bool{false, false}, rec.connected)

	require.NoError(t, c.Ping(nil))
	assert.Equal(t, []string{"{ping:[1]}"}, tr.takeSent())
	assert.Empty(t, tr.takeSent(), "nothing resent")
}

func TestSendStateErrors(t *testing.T) {
	c, tr, _ := newTestConnection(t)
	assert.ErrorIs(t, c.Ping(nil), ErrNotConnected)
	assert.ErrorIs(t, c.Callback(1, true, nil), ErrNotConnected)

	require.NoError(t, c.Connect(testApp))
	assert.ErrorIs(t, c.Call("auth", "signIn", nil, nil), ErrNotConnected)

	tr.receive(t, "{handshake:[0],ok:'sid'}")
	require.NoError(t, c.Close(true))
	assert.ErrorIs(t, c.Ping(nil), ErrConnectionClosed)
	assert.ErrorIs(t, c.Callback(1, true, nil), ErrConnectionClosed)
	assert.ErrorIs(t, c.Connect(testApp), ErrConnectionClosed)
}

func TestCloseResolvesPendingExactlyOnce(t *testing.T) {
	c, tr, rec := newTestConnection(t)
	establish(t, c, tr, "sid")

	sinks := []*callbackSink{{}, {}}
	for _, s := range sinks {
		require.NoError(t, c.Call("auth", "signIn", nil, s.handler()))
	}

	require.NoError(t, c.Close(false))
	require.NoError(t, c.Close(false))

	assert.Equal(t, Closed, c.State())
	assert.Equal(t, []bool{false}, tr.closeCalls())
	assert.Equal(t, 1, rec.closed)
	for _, s := range sinks {
		results := s.results()
		require.Len(t, results, 1)
		assert.ErrorIs(t, results[0].err, ErrCallbackLost)
	}
}

func TestCloseBeforeConnect(t *testing.T) {
	c, _, rec := newTestConnection(t)
	require.NoError(t, c.Close(true))
	assert.Equal(t, Closed, c.State())
	assert.Equal(t, 1, rec.closed)
}

func TestSaveAndRestoreSessionAcrossConnections(t *testing.T) {
	ctx := context.Background()
	store := newMapStorage()

	c, tr, _ := newTestConnection(t)
	establish(t, c, tr, "sid")
	require.NoError(t, c.Call("auth", "signIn", jsrs.Array{jsrs.String("a")}, nil))
	require.NoError(t, c.Call("auth", "signIn", jsrs.Array{jsrs.String("b")}, nil))
	require.NoError(t, c.SaveSession(ctx, store))

	next, tr2, rec2 := newTestConnection(t)
	require.NoError(t, next.RestoreSession(ctx, store))
	assert.Equal(t, "sid", next.SessionData().SessionID)

	require.NoError(t, next.Connect(testApp))
	assert.Equal(t, []string{"{handshake:[0,'testApp','1.0'],session:['sid',0]}"}, tr2.takeSent())

	tr2.receive(t, "{handshake:[0],ok:1}")
	assert.Equal(t, []string{"{call:[2,'auth'],signIn:['b']}"}, tr2.takeSent())
	assert.Equal(t, []bool{true}, rec2.connected)

	assert.ErrorIs(t, next.RestoreSession(ctx, store), ErrSessionActive)
}

func TestDeliverFrame(t *testing.T) {
	c, tr, rec := newTestConnection(t)
	establish(t, c, tr, "sid")

	err := DeliverFrame(tr.listener, "{ping:[1]}")
	require.NoError(t, err)
	assert.Equal(t, []string{"{pong:[1]}"}, tr.takeSent())

	err = DeliverFrame(tr.listener, "{ping:[")
	assert.Error(t, err)
	assert.Equal(t, []string{"{ping:["}, rec.rejected)
}
