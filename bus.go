package lpsclient

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quandastudio/lpsclient-go/transport"
	"github.com/quandastudio/lpsclient-go/wire"
)

// Stream is one transport connection as seen by the bus.
// *transport.Conn satisfies it.
type Stream interface {
	Events() <-chan transport.Event
	Send(ctx context.Context, payload []byte) error
	Connected() bool
	Close() error
}

// DialFunc opens a new Stream.
type DialFunc func(ctx context.Context) (Stream, error)

// Bus multicasts decoded server messages to any number of subscribers over
// one shared connection. The first subscriber triggers a dial. When the
// last subscriber leaves, the connection is kept for a grace window so a
// quick re-subscribe reuses it; after the window it is closed.
//
// Every subscriber of one connection sees the same messages in the same
// order. Delivery follows subscription order.
type Bus struct {
	dial  DialFunc
	grace time.Duration
	log   *slog.Logger

	mu      sync.Mutex
	up      *upstream // current connection, nil when none
	lastErr error
}

// upstream is one connection attempt, its subscribers and its pump
// goroutine. Once detached from the bus it still delivers its final
// Disconnected to the subscribers it has.
type upstream struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream Stream // nil while dialing
	live   bool   // Connected has been published
	subs   []*Subscription
	idle   *time.Timer
}

// usable reports whether new subscribers may join up. Callers hold b.mu.
func (up *upstream) usable() bool {
	if up.ctx.Err() != nil {
		return false
	}
	return up.stream == nil || up.stream.Connected()
}

// Subscription is one consumer of the bus. C is closed once the upstream
// connection ends, right after its Disconnected message.
type Subscription struct {
	id   uuid.UUID
	bus  *Bus
	up   *upstream
	c    chan wire.Inbound
	done chan struct{}
	once sync.Once
}

// NewBus returns a bus that dials with dial on first subscription.
func NewBus(dial DialFunc, grace time.Duration, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{dial: dial, grace: grace, log: logger}
}

// Subscribe registers a new consumer, connecting if needed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.up == nil || !b.up.usable() {
		b.up = b.start()
	}
	up := b.up
	if up.idle != nil {
		up.idle.Stop()
		up.idle = nil
	}
	s := &Subscription{
		id:   uuid.New(),
		bus:  b,
		up:   up,
		c:    make(chan wire.Inbound, 64),
		done: make(chan struct{}),
	}
	up.subs = append(up.subs, s)
	b.log.Debug("bus subscribe", "sub", s.id.String(), "subscribers", len(up.subs))
	return s
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() uuid.UUID { return s.id }

// C returns the message channel.
func (s *Subscription) C() <-chan wire.Inbound { return s.c }

// Close unsubscribes. It never blocks and is safe to call repeatedly.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.bus.unsubscribe(s)
	})
}

// current reports whether s is attached to the bus's live connection.
func (s *Subscription) current() bool {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.up == s.up && s.up.usable()
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	up := s.up
	if i := slices.Index(up.subs, s); i >= 0 {
		up.subs = slices.Delete(up.subs, i, i+1)
	}
	if b.up != up || len(up.subs) > 0 {
		return
	}
	b.log.Debug("bus idle, grace window started", "grace", b.grace)
	up.idle = time.AfterFunc(b.grace, func() { b.expire(up) })
}

// expire closes up if it is still idle when its grace window elapses.
func (b *Bus) expire(up *upstream) {
	b.mu.Lock()
	if b.up != up || len(up.subs) > 0 {
		b.mu.Unlock()
		return
	}
	b.up = nil
	stream := up.stream
	up.cancel()
	b.mu.Unlock()

	b.log.Debug("bus grace window elapsed, closing connection")
	if stream != nil {
		stream.Close()
	}
}

// Connected reports whether the shared connection is up.
func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.up != nil && b.up.live && b.up.usable()
}

// Send writes payload on the shared connection.
func (b *Bus) Send(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	var stream Stream
	if b.up != nil && b.up.usable() {
		stream = b.up.stream
	}
	b.mu.Unlock()

	if stream == nil {
		return ErrNotConnected
	}
	return stream.Send(ctx, payload)
}

// Disconnect closes the shared connection, or aborts a dial in progress.
// Its subscribers receive Disconnected and their channels are closed. The
// next Subscribe dials again.
func (b *Bus) Disconnect() {
	b.mu.Lock()
	up := b.up
	b.up = nil
	var stream Stream
	if up != nil {
		if up.idle != nil {
			up.idle.Stop()
		}
		stream = up.stream
		up.cancel()
	}
	b.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
}

// LastError returns the cause of the most recent failed dial or
// non-graceful disconnect.
func (b *Bus) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *Bus) start() *upstream {
	ctx, cancel := context.WithCancel(context.Background())
	up := &upstream{ctx: ctx, cancel: cancel}
	go b.run(up)
	return up
}

func (b *Bus) run(up *upstream) {
	defer b.finish(up)

	stream, err := b.dial(up.ctx)
	if err != nil {
		aborted := up.ctx.Err() != nil
		if !aborted {
			b.log.Warn("connect failed", "error", err)
			b.setErr(err)
		}
		b.publish(up, wire.Disconnected{Graceful: aborted})
		return
	}

	b.mu.Lock()
	up.stream = stream
	aborted := up.ctx.Err() != nil
	b.mu.Unlock()
	if aborted {
		stream.Close()
	}

	for ev := range stream.Events() {
		switch ev.Type {
		case transport.EventConnected:
			// Subscribers joining after this point see Connected() true
			// instead of the message.
			b.mu.Lock()
			up.live = true
			b.lastErr = nil
			subs := slices.Clone(up.subs)
			b.mu.Unlock()
			deliver(subs, wire.Connected{})
		case transport.EventData:
			msg := wire.Decode(ev.Data)
			if u, ok := msg.(wire.Unknown); ok {
				b.log.Debug("unrecognised message", "action", u.Action, "size", len(u.Raw))
			}
			b.publish(up, msg)
		case transport.EventDisconnected:
			if ev.Err != nil {
				b.setErr(ev.Err)
			}
			b.publish(up, wire.Disconnected{Graceful: ev.Graceful})
		}
	}
}

func (b *Bus) setErr(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
}

// publish delivers msg to every current subscriber of up, in order. A
// subscriber that unsubscribes mid-delivery is skipped.
func (b *Bus) publish(up *upstream, msg wire.Inbound) {
	b.mu.Lock()
	subs := slices.Clone(up.subs)
	b.mu.Unlock()
	deliver(subs, msg)
}

func deliver(subs []*Subscription, msg wire.Inbound) {
	for _, s := range subs {
		select {
		case s.c <- msg:
		case <-s.done:
		}
	}
}

// finish detaches up and closes its subscribers' channels.
func (b *Bus) finish(up *upstream) {
	b.mu.Lock()
	if b.up == up {
		b.up = nil
	}
	if up.idle != nil {
		up.idle.Stop()
	}
	subs := up.subs
	up.subs = nil
	b.mu.Unlock()

	up.cancel()
	for _, s := range subs {
		close(s.c)
	}
}
