// Package transport carries LPS frames over a raw socket or a WebSocket.
// Each Conn runs one read goroutine and one write goroutine and publishes
// its lifecycle as a stream of events: one Connected, any number of Data,
// then exactly one Disconnected before the stream is closed.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrIdleTimeout  = errors.New("transport: read idle timeout")
	ErrUnknownKind  = errors.New("transport: unknown connection kind")
)

// ConnectionError reports a failed or timed out connect.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// EventType tags transport events.
type EventType uint8

const (
	EventConnected EventType = iota + 1
	EventData
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one item of a connection's event stream.
type Event struct {
	Type     EventType
	Data     []byte // frame payload, EventData only
	Graceful bool   // EventDisconnected only
	Err      error  // cause of a non-graceful disconnect
}

// framer reads and writes whole frame payloads on one underlying stream.
type framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	// graceful reports whether err is the peer's orderly close.
	graceful(err error) bool
	Close() error
}

type outgoing struct {
	payload []byte
	result  chan error
}

// Conn is one live framed connection. A Conn is never reused: once its
// Disconnected event is emitted, a new Conn must be dialed.
type Conn struct {
	id  uuid.UUID
	cfg Config
	fr  framer
	log *slog.Logger

	events chan Event
	sendCh chan outgoing
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	graceful  bool
	cause     error
}

// Dial connects to the configured server. The returned Conn has already
// queued its Connected event.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	cfg = cfg.WithDefaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var (
		fr  framer
		err error
	)
	switch cfg.Kind {
	case Socket:
		fr, err = dialSocket(ctx, cfg)
	case WebSocket:
		fr, err = dialWebSocket(ctx, cfg)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
	if err != nil {
		return nil, &ConnectionError{Addr: cfg.Addr(), Err: err}
	}

	c := newConn(fr, cfg)
	c.log.Info("connected to server", "addr", cfg.Addr(), "kind", cfg.Kind)
	return c, nil
}

func newConn(fr framer, cfg Config) *Conn {
	id := uuid.New()
	c := &Conn{
		id:     id,
		cfg:    cfg,
		fr:     fr,
		log:    cfg.Logger.With("conn", id.String()),
		events: make(chan Event, 16),
		sendCh: make(chan outgoing, 64),
		done:   make(chan struct{}),
	}
	c.events <- Event{Type: EventConnected}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c
}

// ID identifies this connection in logs.
func (c *Conn) ID() uuid.UUID { return c.id }

// Events returns the connection's event stream. It is closed right after
// the Disconnected event. The stream must be drained until closed.
func (c *Conn) Events() <-chan Event { return c.events }

// Connected reports whether the connection is still usable.
func (c *Conn) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Send queues payload on the write goroutine and waits for it to be
// written. A failed write tears the connection down.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	out := outgoing{payload: payload, result: make(chan error, 1)}
	select {
	case c.sendCh <- out:
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.result:
		if err != nil {
			return fmt.Errorf("transport: write frame: %w", err)
		}
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects. It is safe to call any number of times from any
// goroutine; only the first call has an effect.
func (c *Conn) Close() error {
	c.shutdown(true, nil)
	return nil
}

// Wait blocks until both I/O goroutines have exited.
func (c *Conn) Wait() { c.wg.Wait() }

func (c *Conn) shutdown(graceful bool, cause error) {
	c.closeOnce.Do(func() {
		c.graceful = graceful
		c.cause = cause
		close(c.done)
		if err := c.fr.Close(); err != nil {
			c.log.Debug("close connection", "error", err)
		}
	})
}

func (c *Conn) readLoop() {
	defer c.wg.Done()

	var cause error
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = c.fr.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		data, err := c.fr.ReadFrame()
		if err != nil {
			cause = err
			break
		}
		select {
		case c.events <- Event{Type: EventData, Data: data}:
		case <-c.done:
		}
	}

	c.shutdown(c.fr.graceful(cause), classify(cause))

	ev := Event{Type: EventDisconnected, Graceful: c.graceful}
	if !c.graceful {
		ev.Err = c.cause
		c.log.Warn("connection lost", "error", c.cause)
	} else {
		c.log.Info("disconnected")
	}
	c.events <- ev
	close(c.events)
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case out := <-c.sendCh:
			_ = c.fr.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := c.fr.WriteFrame(out.payload)
			out.result <- err
			if err != nil {
				c.log.Warn("write error", "error", err)
				c.shutdown(false, err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func classify(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrIdleTimeout, err)
	}
	return err
}
