package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"

	"github.com/quandastudio/lpsclient-go/frame"
)

// serve starts a one-shot loopback server running handler on the first
// accepted connection.
func serve(t *testing.T, kind Kind, handler func(net.Conn)) Config {
	t.Helper()
	upgrade := func(net.Conn) error { return nil }
	if kind == WebSocket {
		upgrade = func(conn net.Conn) error {
			_, err := ws.Upgrade(conn)
			return err
		}
	}
	return serveWith(t, kind, upgrade, handler)
}

func serveWith(t *testing.T, kind Kind, upgrade func(net.Conn) error, handler func(net.Conn)) Config {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if err := upgrade(conn); err != nil {
			return
		}
		handler(conn)
	}()

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return Config{
		Kind:           kind,
		Host:           "127.0.0.1",
		Port:           p,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func dial(t *testing.T, cfg Config) *Conn {
	t.Helper()
	c, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func nextEvent(t *testing.T, c *Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// drain collects events until the stream is closed.
func drain(t *testing.T, c *Conn) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream not closed")
		}
	}
}

func TestSocketReceivesFrame(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	cfg := serve(t, Socket, func(conn net.Conn) {
		conn.Write([]byte("SIZE:5\nhello"))
		<-hold
	})
	c := dial(t, cfg)

	if ev := nextEvent(t, c); ev.Type != EventConnected {
		t.Fatalf("first event: got %v, want connected", ev.Type)
	}
	ev := nextEvent(t, c)
	if ev.Type != EventData || string(ev.Data) != "hello" {
		t.Fatalf("got %v %q, want data \"hello\"", ev.Type, ev.Data)
	}
}

func TestSocketSendWritesFrame(t *testing.T) {
	got := make(chan []byte, 1)
	cfg := serve(t, Socket, func(conn net.Conn) {
		payload, err := frame.ReadFrame(bufio.NewReader(conn), 0)
		if err != nil {
			close(got)
			return
		}
		got <- payload
	})
	c := dial(t, cfg)

	if err := c.Send(context.Background(), []byte(`{"action":"word"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case p := <-got:
		if string(p) != `{"action":"word"}` {
			t.Errorf("server got %q", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server received nothing")
	}
}

func TestCloseEmitsSingleDisconnect(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	cfg := serve(t, Socket, func(net.Conn) { <-hold })
	c := dial(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()

	events := drain(t, c)
	var disconnects int
	for _, ev := range events {
		if ev.Type == EventDisconnected {
			disconnects++
			if !ev.Graceful {
				t.Errorf("local close should be graceful, err=%v", ev.Err)
			}
		}
	}
	if disconnects != 1 {
		t.Errorf("disconnect events: got %d, want 1", disconnects)
	}
	if c.Connected() {
		t.Error("connection still reports connected")
	}
	c.Wait()
}

func TestPeerDropIsNotGraceful(t *testing.T) {
	cfg := serve(t, Socket, func(conn net.Conn) {})
	c := dial(t, cfg)

	events := drain(t, c)
	last := events[len(events)-1]
	if last.Type != EventDisconnected || last.Graceful {
		t.Fatalf("last event: got %+v, want non-graceful disconnect", last)
	}
}

func TestIdleTimeoutDisconnects(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	cfg := serve(t, Socket, func(conn net.Conn) {
		conn.Write([]byte("SIZE:1000000\nonly a few bytes"))
		<-hold
	})
	cfg.ReadTimeout = 100 * time.Millisecond
	c := dial(t, cfg)

	events := drain(t, c)
	last := events[len(events)-1]
	if last.Type != EventDisconnected || last.Graceful {
		t.Fatalf("last event: got %+v, want non-graceful disconnect", last)
	}
	if !errors.Is(last.Err, ErrIdleTimeout) {
		t.Errorf("expected ErrIdleTimeout, got %v", last.Err)
	}
	for _, ev := range events {
		if ev.Type == EventData {
			t.Errorf("unexpected data event %q", ev.Data)
		}
	}
}

func TestMalformedHeaderDisconnects(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	cfg := serve(t, Socket, func(conn net.Conn) {
		conn.Write([]byte("LENGTH=5\nhello"))
		<-hold
	})
	c := dial(t, cfg)

	events := drain(t, c)
	last := events[len(events)-1]
	if last.Type != EventDisconnected {
		t.Fatalf("last event: got %v", last.Type)
	}
	if !frame.IsProtocolError(last.Err) {
		t.Errorf("expected protocol error, got %v", last.Err)
	}
}

func TestSendAfterClose(t *testing.T) {
	cfg := serve(t, Socket, func(net.Conn) {})
	c := dial(t, cfg)
	c.Close()

	if err := c.Send(context.Background(), []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	p, _ := strconv.Atoi(port)

	_, err = Dial(context.Background(), Config{Host: "127.0.0.1", Port: p, ConnectTimeout: time.Second, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConnectionError, got %v", err)
	}
}

func TestUnknownKind(t *testing.T) {
	_, err := Dial(context.Background(), Config{Kind: "carrier-pigeon", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.Port != DefaultSocketPort {
		t.Errorf("socket port: got %d", cfg.Port)
	}
	cfg = Config{Kind: WebSocket}.WithDefaults()
	if cfg.Port != DefaultWebSocketPort {
		t.Errorf("websocket port: got %d", cfg.Port)
	}
	if cfg.ReadTimeout != DefaultConfig().ReadTimeout {
		t.Errorf("read timeout: got %v", cfg.ReadTimeout)
	}
}

func TestWebSocketExchange(t *testing.T) {
	received := make(chan []byte, 1)
	cfg := serve(t, WebSocket, func(conn net.Conn) {
		if err := wsutil.WriteServerText(conn, []byte(`{"action":"timeout"}`)); err != nil {
			return
		}
		data, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		received <- data
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "bye")
		ws.WriteFrame(conn, ws.NewCloseFrame(body))
		// Wait for the client's close reply.
		wsutil.ReadClientData(conn)
	})
	c := dial(t, cfg)

	if ev := nextEvent(t, c); ev.Type != EventConnected {
		t.Fatalf("first event: got %v", ev.Type)
	}
	ev := nextEvent(t, c)
	if ev.Type != EventData || string(ev.Data) != `{"action":"timeout"}` {
		t.Fatalf("got %v %q", ev.Type, ev.Data)
	}

	if err := c.Send(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case p := <-received:
		if string(p) != "ping" {
			t.Errorf("server got %q", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server received nothing")
	}

	events := drain(t, c)
	last := events[len(events)-1]
	if last.Type != EventDisconnected || !last.Graceful {
		t.Errorf("last event: got %+v, want graceful disconnect", last)
	}
}

func TestWebSocketDeflateExchange(t *testing.T) {
	// Long enough to span several deflate blocks.
	payload := `{"action":"friends_list","list":[` + strings.Repeat(`{"login":"nina","user_id":14,"is_accepted":true},`, 40) + `]}`

	ext := wsflate.Extension{Parameters: wsflate.DefaultParameters}
	upgrade := func(conn net.Conn) error {
		u := ws.Upgrader{Negotiate: ext.Negotiate}
		_, err := u.Upgrade(conn)
		return err
	}
	received := make(chan []byte, 1)
	cfg := serveWith(t, WebSocket, upgrade, func(conn net.Conn) {
		if _, ok := ext.Accepted(); !ok {
			return
		}
		f, err := wsflate.CompressFrame(ws.NewTextFrame([]byte(payload)))
		if err != nil {
			return
		}
		if err := ws.WriteFrame(conn, f); err != nil {
			return
		}

		in, err := ws.ReadFrame(conn)
		if err != nil {
			return
		}
		if in.Header.Masked {
			ws.Cipher(in.Payload, in.Header.Mask, 0)
			in.Header.Masked = false
		}
		if in.Header.Rsv != ws.Rsv(true, false, false) {
			received <- []byte("uncompressed")
			return
		}
		out, err := wsflate.DecompressFrame(in)
		if err != nil {
			received <- []byte(err.Error())
			return
		}
		received <- out.Payload
		ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		wsutil.ReadClientData(conn)
	})
	cfg.Compression = true
	c := dial(t, cfg)

	if ev := nextEvent(t, c); ev.Type != EventConnected {
		t.Fatalf("first event: got %v", ev.Type)
	}
	ev := nextEvent(t, c)
	if ev.Type != EventData || string(ev.Data) != payload {
		t.Fatalf("got %v %q err=%v", ev.Type, ev.Data, ev.Err)
	}

	if err := c.Send(context.Background(), []byte(payload)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case p := <-received:
		if string(p) != payload {
			t.Errorf("server got %q", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server received nothing")
	}

	events := drain(t, c)
	if last := events[len(events)-1]; last.Type != EventDisconnected || !last.Graceful {
		t.Errorf("last event: got %+v, want graceful disconnect", last)
	}
}
