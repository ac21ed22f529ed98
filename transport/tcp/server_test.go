package tcp

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Zereker/jstp"
)

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	opts = append([]ServerOption{ServerLoggerOption(jstp.NopLogger())}, opts...)
	server, err := Listen("127.0.0.1:0", opts...)
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })
	return server
}

// echoHandler writes back every frame it reads and reports it on frames.
func echoHandler(frames chan<- string) Handler {
	return HandlerFunc(func(ctx context.Context, conn *Conn) {
		for {
			frame, err := conn.ReadFrame()
			if err != nil {
				return
			}
			frames <- frame
			if err := conn.WriteFrame(frame); err != nil {
				return
			}
		}
	})
}

func dialRaw(t *testing.T, addr net.Addr) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func TestListen(t *testing.T) {
	server := newTestServer(t)

	if server.Addr() == nil {
		t.Fatal("Addr() returned nil")
	}
	if _, ok := server.Addr().(*net.TCPAddr); !ok {
		t.Errorf("Addr() = %T, want *net.TCPAddr", server.Addr())
	}
}

func TestListen_InvalidAddr(t *testing.T) {
	if _, err := Listen("invalid:address:here"); err == nil {
		t.Error("expected error for invalid address")
	}
}

func TestServer_Close(t *testing.T) {
	server := newTestServer(t)

	if err := server.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	// Second close should return error (listener already closed)
	if err := server.Close(); err == nil {
		t.Error("expected error on second close")
	}
}

func TestServer_Serve(t *testing.T) {
	server := newTestServer(t)
	frames := make(chan string, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(context.Background(), echoHandler(frames))
	}()

	conn, reader := dialRaw(t, server.Addr())
	if _, err := conn.Write([]byte("{ping:[1]}\x00")); err != nil {
		t.Fatalf("write error: %v", err)
	}

	select {
	case frame := <-frames:
		if frame != "{ping:[1]}" {
			t.Errorf("frame = %q, want {ping:[1]}", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for frame")
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	echoed, err := reader.ReadString(0)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if echoed != "{ping:[1]}\x00" {
		t.Errorf("echo = %q", echoed)
	}

	_ = server.Close()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve() after Close = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestServer_Serve_MultipleConnections(t *testing.T) {
	server := newTestServer(t)

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	wg.Add(3)

	handler := HandlerFunc(func(ctx context.Context, conn *Conn) {
		mu.Lock()
		seen[conn.RemoteAddr()] = true
		mu.Unlock()
		wg.Done()
		<-ctx.Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = server.Serve(ctx, handler) }()

	for i := 0; i < 3; i++ {
		dialRaw(t, server.Addr())
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for connections")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("handled %d connections, want 3", len(seen))
	}
}

func TestServer_Serve_ContextCanceled(t *testing.T) {
	server := newTestServer(t)
	handlerDone := make(chan struct{})

	handler := HandlerFunc(func(ctx context.Context, conn *Conn) {
		defer close(handlerDone)
		// blocks until the server closes the connection
		_, _ = conn.ReadFrame()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ctx, handler)
	}()

	dialRaw(t, server.Addr())
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	select {
	case <-handlerDone:
	default:
		t.Error("Serve returned before its handlers")
	}
}

func TestServer_OversizedFrame(t *testing.T) {
	skipped := make(chan error, 1)
	server := newTestServer(t, ServerConnOption(
		MessageMaxSize(16),
		OnErrorOption(func(err error) ErrorAction {
			skipped <- err
			return Continue
		}),
	))
	frames := make(chan string, 1)
	go func() { _ = server.Serve(context.Background(), echoHandler(frames)) }()

	conn, _ := dialRaw(t, server.Addr())
	if _, err := conn.Write([]byte("{call:[1,'a'],toolong:[1,2,3]}\x00{}\x00")); err != nil {
		t.Fatalf("write error: %v", err)
	}

	select {
	case err := <-skipped:
		if err != ErrMessageTooLarge {
			t.Errorf("error = %v, want ErrMessageTooLarge", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("oversized frame not reported")
	}

	select {
	case frame := <-frames:
		if frame != "{}" {
			t.Errorf("frame = %q, want {}", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("frame after oversized one was not read")
	}
}
