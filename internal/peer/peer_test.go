package peer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/jstp"
	"github.com/Zereker/jstp/jsrs"
)

// chanConn is a Conn fed by the test through in and answered through out.
type chanConn struct {
	in   chan string
	out  chan string
	once sync.Once
	done chan struct{}
}

func newChanConn() *chanConn {
	return &chanConn{
		in:   make(chan string, 16),
		out:  make(chan string, 16),
		done: make(chan struct{}),
	}
}

func (c *chanConn) ReadFrame() (string, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.done:
		return "", io.EOF
	}
}

func (c *chanConn) WriteFrame(frame string) error {
	select {
	case <-c.done:
		return io.ErrClosedPipe
	default:
	}
	c.out <- frame
	return nil
}

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *chanConn) expect(t *testing.T) string {
	t.Helper()
	select {
	case f := <-c.out:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reply")
		return ""
	}
}

func serve(t *testing.T, p *Peer) (*chanConn, chan error) {
	t.Helper()
	conn := newChanConn()
	errc := make(chan error, 1)
	go func() { errc <- p.Serve(context.Background(), conn) }()
	t.Cleanup(func() { _ = conn.Close() })
	return conn, errc
}

func handshake(t *testing.T, conn *chanConn) string {
	t.Helper()
	conn.in <- "{handshake:[0,'app']}"
	obj, err := jsrs.ParseObject(conn.expect(t))
	require.NoError(t, err)
	sid, ok := obj.Get("ok")
	require.True(t, ok)
	require.IsType(t, jsrs.String(""), sid)
	return string(sid.(jsrs.String))
}

func newTestPeer(opts ...Option) *Peer {
	opts = append([]Option{LoggerOption(jstp.NopLogger())}, opts...)
	p := New("app", opts...)
	p.Handle("calc", "add", func(args jsrs.Array) (jsrs.Array, error) {
		var sum jsrs.Number
		for _, a := range args {
			n, _ := a.(jsrs.Number)
			sum += n
		}
		return jsrs.Array{sum}, nil
	})
	p.Handle("calc", "fail", func(args jsrs.Array) (jsrs.Array, error) {
		return nil, io.ErrUnexpectedEOF
	})
	return p
}

func TestHandshake(t *testing.T) {
	p := newTestPeer()
	conn, _ := serve(t, p)

	sid := handshake(t, conn)
	assert.NotEmpty(t, sid)
}

func TestHandshakeUnknownApp(t *testing.T) {
	p := newTestPeer()
	conn, _ := serve(t, p)

	conn.in <- "{handshake:[0,'other']}"
	assert.Equal(t, "{handshake:[0],error:[10]}", conn.expect(t))
}

func TestHandshakeLogin(t *testing.T) {
	p := newTestPeer(AuthOption(func(user, pass string) bool {
		return user == "admin" && pass == "secret"
	}))

	conn, _ := serve(t, p)
	conn.in <- "{handshake:[0,'app'],login:['admin','wrong']}"
	assert.Equal(t, "{handshake:[0],error:[11]}", conn.expect(t))

	conn.in <- "{handshake:[0,'app'],login:['admin','secret']}"
	assert.Contains(t, conn.expect(t), "ok:'")
}

func TestCall(t *testing.T) {
	p := newTestPeer()
	conn, _ := serve(t, p)
	handshake(t, conn)

	conn.in <- "{call:[1,'calc'],add:[1,2,3]}"
	assert.Equal(t, "{callback:[1],ok:[6]}", conn.expect(t))

	conn.in <- "{call:[2,'calc'],nope:[]}"
	assert.Equal(t, "{callback:[2],error:[14]}", conn.expect(t))

	conn.in <- "{call:[3,'missing'],add:[]}"
	assert.Equal(t, "{callback:[3],error:[12]}", conn.expect(t))

	conn.in <- "{call:[4,'calc'],fail:[]}"
	assert.Equal(t, "{callback:[4],error:[16]}", conn.expect(t))
}

func TestInspectAndPing(t *testing.T) {
	p := newTestPeer()
	conn, _ := serve(t, p)
	handshake(t, conn)

	conn.in <- "{inspect:[1,'calc']}"
	assert.Equal(t, "{callback:[1],ok:['add','fail']}", conn.expect(t))

	conn.in <- "{inspect:[2,'missing']}"
	assert.Equal(t, "{callback:[2],error:[12]}", conn.expect(t))

	conn.in <- "{ping:[3]}"
	assert.Equal(t, "{pong:[3]}", conn.expect(t))
}

func TestHeartbeatIgnored(t *testing.T) {
	var mu sync.Mutex
	var frames []string
	p := newTestPeer(FrameHookOption(func(f string) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	}))
	conn, _ := serve(t, p)
	handshake(t, conn)

	conn.in <- "{}"
	conn.in <- "{ping:[1]}"
	assert.Equal(t, "{pong:[1]}", conn.expect(t))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, frames, "{}")
	assert.EqualValues(t, 2, p.Received())
}

func TestMessageBeforeHandshake(t *testing.T) {
	p := newTestPeer()
	conn, errc := serve(t, p)

	conn.in <- "{ping:[1]}"
	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("peer kept a connection without handshake")
	}
}

func TestMalformedRecord(t *testing.T) {
	p := newTestPeer()
	conn, errc := serve(t, p)

	conn.in <- "{handshake:"
	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("peer accepted a malformed record")
	}
}

func TestSessionRestore(t *testing.T) {
	p := newTestPeer()
	conn, _ := serve(t, p)
	sid := handshake(t, conn)

	conn.in <- "{call:[1,'calc'],add:[1]}"
	conn.expect(t)
	conn.in <- "{event:[2,'chat'],message:['hi']}"
	conn.in <- "{callback:[1],ok:[]}"
	conn.in <- "{ping:[3]}"
	conn.expect(t)
	_ = conn.Close()

	second, _ := serve(t, p)
	second.in <- "{handshake:[0,'app'],session:['" + sid + "',0]}"
	assert.Equal(t, "{handshake:[0],ok:3}", second.expect(t))

	third, _ := serve(t, p)
	third.in <- "{handshake:[0,'app'],session:['unknown',0]}"
	assert.Equal(t, "{handshake:[0],error:[10]}", third.expect(t))
}

func TestSessionRestoreWhileClientActive(t *testing.T) {
	p := newTestPeer()
	conn, _ := serve(t, p)
	sid := handshake(t, conn)

	const pings = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= pings; i++ {
			conn.in <- fmt.Sprintf("{ping:[%d]}", i)
			<-conn.out
		}
	}()

	restore := "{handshake:[0,'app'],session:['" + sid + "',0]}"
	for i := 0; i < 5; i++ {
		other, _ := serve(t, p)
		other.in <- restore
		assert.Regexp(t, `^\{handshake:\[0\],ok:\d+\}$`, other.expect(t))
	}
	<-done

	last, _ := serve(t, p)
	last.in <- restore
	assert.Equal(t, fmt.Sprintf("{handshake:[0],ok:%d}", pings), last.expect(t))
}

func TestNumberTooLarge(t *testing.T) {
	p := newTestPeer()
	conn, errc := serve(t, p)
	handshake(t, conn)

	conn.in <- "{ping:[1e20]}"
	select {
	case err := <-errc:
		assert.ErrorContains(t, err, "invalid message number")
	case <-time.After(5 * time.Second):
		t.Fatal("peer accepted an out of range number")
	}
}

func TestEmit(t *testing.T) {
	p := newTestPeer()
	conn, _ := serve(t, p)
	pending, _ := serve(t, p)
	handshake(t, conn)

	require.Eventually(t, func() bool { return p.Clients() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, p.Emit("chat", "message", jsrs.Array{jsrs.String("hello")}))
	assert.Equal(t, "{event:[1,'chat'],message:['hello']}", conn.expect(t))
	assert.Equal(t, 1, p.Emit("chat", "message", jsrs.Array{}))
	assert.Equal(t, "{event:[2,'chat'],message:[]}", conn.expect(t))

	select {
	case f := <-pending.out:
		t.Fatalf("event sent before handshake: %s", f)
	default:
	}
}

func TestDropAll(t *testing.T) {
	p := newTestPeer()
	_, errc := serve(t, p)
	require.Eventually(t, func() bool { return p.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	p.DropAll()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(5 * time.Second):
		t.Fatal("connection not dropped")
	}
	require.Eventually(t, func() bool { return p.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}
