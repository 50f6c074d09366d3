package websocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
)

func startServer(t *testing.T, cfg Config, h Handlers[string]) (*Server[string], string) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	srv := NewServer(cfg, h)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		srv.Shutdown(sctx)
		<-served
	})
	return srv, ln.Addr().String()
}

// dialer writes messages up to the default MaxPayload as a single frame.
// Gorilla's default 4 KiB write buffer would fragment larger ones.
var dialer = &gws.Dialer{
	HandshakeTimeout: 5 * time.Second,
	WriteBufferSize:  defaultMaxPayload + 16,
}

func dial(t *testing.T, addr string) *gws.Conn {
	t.Helper()
	ws, resp, err := dialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func readText(t *testing.T, ws *gws.Conn) string {
	t.Helper()
	kind, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if kind != gws.TextMessage {
		t.Fatalf("message type = %d, want text", kind)
	}
	return string(data)
}

// rawDial completes the handshake by hand and returns the socket and a
// reader positioned at the first frame.
func rawDial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	nc.SetDeadline(time.Now().Add(5 * time.Second))

	fmt.Fprintf(nc, "GET /game HTTP/1.1\r\nHost: %s\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n", addr)
	r := bufio.NewReader(nc)
	resp, err := http.ReadResponse(r, nil)
	if err != nil {
		t.Fatalf("ReadResponse() error = %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("Sec-WebSocket-Accept = %q", got)
	}
	return nc, r
}

// expectClose reads frames until a close frame and checks its code.
func expectClose(t *testing.T, r *bufio.Reader, want CloseCode) {
	t.Helper()
	for {
		f, err := ReadFrame(r, 0)
		if err != nil {
			t.Fatalf("ReadFrame() error = %v, want close %d", err, want)
		}
		if f.Masked {
			t.Error("server sent a masked frame")
		}
		if f.Opcode != OpClose {
			continue
		}
		code, _, err := ParseClose(f.Payload)
		if err != nil {
			t.Fatalf("ParseClose() error = %v", err)
		}
		if code != want {
			t.Errorf("close code = %d, want %d", code, want)
		}
		return
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerEcho(t *testing.T) {
	_, addr := startServer(t, Config{}, Handlers[string]{
		OnText: func(c *Conn[string], text string) { c.SendText("echo " + text) },
	})
	ws := dial(t, addr)

	for _, msg := range []string{"GAMEJOIN.g,alice", "", strings.Repeat("x", 60000)} {
		if err := ws.WriteMessage(gws.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		if got := readText(t, ws); got != "echo "+msg {
			t.Errorf("got %d bytes, want %d", len(got), len(msg)+5)
		}
	}
}

func TestServerRejectsFragmentedMessage(t *testing.T) {
	var texts atomic.Int32
	_, addr := startServer(t, Config{}, Handlers[string]{
		OnText: func(*Conn[string], string) { texts.Add(1) },
	})
	ws, resp, err := gws.DefaultDialer.Dial("ws://"+addr+"/", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	// Larger than the default write buffer, so it leaves as two frames.
	if err := ws.WriteMessage(gws.TextMessage, []byte(strings.Repeat("x", 10000))); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	_, _, err = ws.ReadMessage()
	if !gws.IsCloseError(err, gws.CloseProtocolError) {
		t.Errorf("ReadMessage() error = %v, want close 1002", err)
	}
	if texts.Load() != 0 {
		t.Errorf("OnText ran %d times", texts.Load())
	}
}

func TestServerContextAndBroadcast(t *testing.T) {
	var srv *Server[string]
	srv, addr := startServer(t, Config{}, Handlers[string]{
		OnText: func(c *Conn[string], text string) {
			if ch, ok := strings.CutPrefix(text, "join "); ok {
				c.SetContext(&ch)
				srv.Hub().Subscribe(ch, c)
				c.SendText("joined " + ch)
				return
			}
			if ctx := c.Context(); ctx != nil {
				srv.Hub().PublishText(*ctx, text)
			}
		},
	})

	a, b, other := dial(t, addr), dial(t, addr), dial(t, addr)
	for ws, ch := range map[*gws.Conn]string{a: "g1", b: "g1", other: "g2"} {
		ws.WriteMessage(gws.TextMessage, []byte("join "+ch))
		if got := readText(t, ws); got != "joined "+ch {
			t.Fatalf("join reply = %q", got)
		}
	}
	if srv.Hub().Count("g1") != 2 || srv.Hub().Count("g2") != 1 {
		t.Fatalf("hub counts g1=%d g2=%d", srv.Hub().Count("g1"), srv.Hub().Count("g2"))
	}

	a.WriteMessage(gws.TextMessage, []byte("hello g1"))
	if got := readText(t, a); got != "hello g1" {
		t.Errorf("sender got %q", got)
	}
	if got := readText(t, b); got != "hello g1" {
		t.Errorf("peer got %q", got)
	}
	other.WriteMessage(gws.TextMessage, []byte("hello g2"))
	if got := readText(t, other); got != "hello g2" {
		t.Errorf("g2 got %q, a g1 message leaked", got)
	}
}

func TestServerAnswersPing(t *testing.T) {
	_, addr := startServer(t, Config{}, Handlers[string]{})
	ws := dial(t, addr)

	pongs := make(chan string, 1)
	ws.SetPongHandler(func(data string) error {
		pongs <- data
		return nil
	})
	go ws.ReadMessage()

	if err := ws.WriteControl(gws.PingMessage, []byte("are you there"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("WriteControl() error = %v", err)
	}
	select {
	case got := <-pongs:
		if got != "are you there" {
			t.Errorf("pong payload = %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no pong")
	}
}

func TestServerCloseHandshake(t *testing.T) {
	var closed atomic.Int32
	srv, addr := startServer(t, Config{}, Handlers[string]{
		OnClose: func(*Conn[string]) { closed.Add(1) },
	})
	ws := dial(t, addr)

	msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "bye")
	if err := ws.WriteMessage(gws.CloseMessage, msg); err != nil {
		t.Fatalf("WriteMessage(close) error = %v", err)
	}
	_, _, err := ws.ReadMessage()
	if !gws.IsCloseError(err, gws.CloseNormalClosure) {
		t.Errorf("ReadMessage() error = %v, want normal close", err)
	}
	waitFor(t, "OnClose", func() bool { return closed.Load() == 1 })
	waitFor(t, "connection removal", func() bool { return srv.ConnCount() == 0 })
}

func TestServerReleasesSocketAfterClose(t *testing.T) {
	_, addr := startServer(t, Config{WriteWait: 5 * time.Second}, Handlers[string]{})
	nc, r := rawDial(t, addr)

	if _, err := nc.Write(EncodeMaskedFrame(OpClose, []byte{0x03, 0xe8, 'b', 'y', 'e'}, [4]byte{5, 6, 7, 8})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	expectClose(t, r, CloseNormal)

	// The socket must close once the reply is out, not after WriteWait.
	nc.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadAll(r); err != nil {
		t.Errorf("socket still open after the close reply: %v", err)
	}
}

func TestServerRejectsBinary(t *testing.T) {
	_, addr := startServer(t, Config{}, Handlers[string]{})
	ws := dial(t, addr)

	ws.WriteMessage(gws.BinaryMessage, []byte{1, 2, 3})
	_, _, err := ws.ReadMessage()
	if !gws.IsCloseError(err, gws.CloseUnsupportedData) {
		t.Errorf("ReadMessage() error = %v, want close 1003", err)
	}
}

func TestServerRejectsBadFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  CloseCode
	}{
		{"unmasked text", EncodeFrame(OpText, []byte("GAMELEAVE")), CloseProtocolError},
		{"reserved bits", []byte{0xC1, 0x80, 0, 0, 0, 0}, CloseProtocolError},
		{"unknown opcode", []byte{0x83, 0x80, 0, 0, 0, 0}, CloseProtocolError},
		{"continuation", []byte{0x80, 0x80, 0, 0, 0, 0}, CloseProtocolError},
		{"fragmented text", []byte{0x01, 0x80, 0, 0, 0, 0}, CloseProtocolError},
		{"invalid utf-8", EncodeMaskedFrame(OpText, []byte{0xff, 0xfe}, [4]byte{1, 2, 3, 4}), CloseInvalidPayload},
		{"one byte close payload", EncodeMaskedFrame(OpClose, []byte{3}, [4]byte{}), CloseProtocolError},
	}

	var opened atomic.Int32
	_, addr := startServer(t, Config{MaxPayload: 1024}, Handlers[string]{
		OnOpen: func(*Conn[string]) { opened.Add(1) },
	})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nc, r := rawDial(t, addr)
			if _, err := nc.Write(tt.frame); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			expectClose(t, r, tt.want)
			if _, err := io.ReadAll(r); err != nil && !errors.Is(err, io.EOF) {
				t.Logf("read after close: %v", err)
			}
		})
	}

	t.Run("too large", func(t *testing.T) {
		nc, r := rawDial(t, addr)
		nc.Write(EncodeMaskedFrame(OpText, make([]byte, 2048), [4]byte{9, 9, 9, 9}))
		expectClose(t, r, CloseMessageTooBig)
	})

	if int(opened.Load()) != len(tests)+1 {
		t.Errorf("OnOpen ran %d times", opened.Load())
	}
}

func TestServerDropsBadHandshake(t *testing.T) {
	_, addr := startServer(t, Config{}, Handlers[string]{
		OnOpen: func(*Conn[string]) { t.Error("OnOpen ran for a rejected handshake") },
	})

	for name, request := range map[string]string{
		"missing key": "GET / HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n",
		"plain http":  "GET / HTTP/1.1\r\nHost: x\r\n\r\n",
	} {
		t.Run(name, func(t *testing.T) {
			nc, err := net.Dial("tcp", addr)
			if err != nil {
				t.Fatal(err)
			}
			defer nc.Close()
			nc.SetDeadline(time.Now().Add(3 * time.Second))
			io.WriteString(nc, request)
			data, err := io.ReadAll(nc)
			if err != nil {
				t.Fatalf("ReadAll() error = %v, want clean EOF", err)
			}
			if len(data) != 0 {
				t.Errorf("server answered %q", data)
			}
		})
	}
}

func TestServerPanicIsolated(t *testing.T) {
	_, addr := startServer(t, Config{}, Handlers[string]{
		OnText: func(c *Conn[string], text string) {
			if text == "boom" {
				panic("handler failure")
			}
			c.SendText(text)
		},
	})
	bad, good := dial(t, addr), dial(t, addr)

	bad.WriteMessage(gws.TextMessage, []byte("boom"))
	if _, _, err := bad.ReadMessage(); err == nil {
		t.Error("panicking connection stayed open")
	}
	good.WriteMessage(gws.TextMessage, []byte("still here"))
	if got := readText(t, good); got != "still here" {
		t.Errorf("healthy connection got %q", got)
	}
}

func TestServerWatchdogTimeout(t *testing.T) {
	var closed atomic.Int32
	_, addr := startServer(t, Config{PingInterval: 50 * time.Millisecond}, Handlers[string]{
		OnClose: func(*Conn[string]) { closed.Add(1) },
	})
	_, r := rawDial(t, addr)

	// Never answer: expect a ping, then a protocol error close.
	f, err := ReadFrame(r, 0)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if f.Opcode != OpPing {
		t.Fatalf("first frame = %v, want ping", f.Opcode)
	}
	expectClose(t, r, CloseProtocolError)
	waitFor(t, "OnClose", func() bool { return closed.Load() == 1 })
}
