package lpsclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quandastudio/lpsclient-go/transport"
	"github.com/quandastudio/lpsclient-go/wire"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeStream is an in-memory Stream. The test plays the server by pushing
// payloads and inspecting what the client sent.
type fakeStream struct {
	srv *fakeServer

	mu     sync.Mutex
	events chan transport.Event
	closed bool
	done   chan struct{}
}

func newFakeStream(srv *fakeServer) *fakeStream {
	s := &fakeStream{
		srv:    srv,
		events: make(chan transport.Event, 256),
		done:   make(chan struct{}),
	}
	if !srv.lateConnect {
		s.events <- transport.Event{Type: transport.EventConnected}
	}
	return s
}

// connect reports the connection as established.
func (s *fakeStream) connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- transport.Event{Type: transport.EventConnected}
	}
}

func (s *fakeStream) Events() <-chan transport.Event { return s.events }

func (s *fakeStream) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *fakeStream) Send(_ context.Context, payload []byte) error {
	if !s.Connected() {
		return transport.ErrNotConnected
	}
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}
	action, _ := body["action"].(string)
	s.srv.record(sent{action: action, body: body})
	if s.srv.reply != nil {
		s.srv.reply(s, action, body)
	}
	return nil
}

func (s *fakeStream) Close() error {
	s.end(transport.Event{Type: transport.EventDisconnected, Graceful: true})
	return nil
}

// push delivers a server payload.
func (s *fakeStream) push(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- transport.Event{Type: transport.EventData, Data: []byte(payload)}
}

// drop simulates the peer vanishing.
func (s *fakeStream) drop() {
	s.end(transport.Event{Type: transport.EventDisconnected, Err: errors.New("connection reset")})
}

func (s *fakeStream) end(ev transport.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.events <- ev
	close(s.events)
}

type sent struct {
	action string
	body   map[string]any
}

// fakeServer hands out fakeStreams and records every client request.
type fakeServer struct {
	// reply, when set, runs for each request the client sends.
	reply func(s *fakeStream, action string, body map[string]any)
	fail  error
	// lateConnect leaves the Connected event to the test.
	lateConnect bool

	mu      sync.Mutex
	streams []*fakeStream
	sent    []sent
	sentCh  chan sent
}

func newFakeServer() *fakeServer {
	return &fakeServer{sentCh: make(chan sent, 256)}
}

func (f *fakeServer) dial(ctx context.Context) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	s := newFakeStream(f)
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeServer) record(m sent) {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	f.sentCh <- m
}

func (f *fakeServer) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeServer) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

// sentActions returns the actions of every recorded request in order.
func (f *fakeServer) sentActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.action
	}
	return out
}

// lastSent returns the most recent request with action.
func (f *fakeServer) lastSent(t *testing.T, action string) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].action == action {
			return f.sent[i].body
		}
	}
	t.Fatalf("no %q request sent", action)
	return nil
}

func (f *fakeServer) waitSent(t *testing.T, action string) map[string]any {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-f.sentCh:
			if m.action == action {
				return m.body
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q request", action)
			return nil
		}
	}
}

func testConfig() Config {
	return Config{Logger: discard, IdleGrace: 10 * time.Second}
}

// connectedClient returns a client already connected to srv.
func connectedClient(t *testing.T, srv *fakeServer) *Client {
	t.Helper()
	c := newClient(testConfig(), srv.dial)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func recv(t *testing.T, sub *Subscription) wire.Inbound {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func expectClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("subscription not closed")
		}
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// subscribers counts the subscribers of the bus's current connection.
func subscribers(b *Bus) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.up == nil {
		return 0
	}
	return len(b.up.subs)
}
