package transport

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/quandastudio/lpsclient-go/frame"
)

// socketFramer reads and writes SIZE-prefixed frames on a TCP stream.
type socketFramer struct {
	conn net.Conn
	br   *bufio.Reader
	max  int
}

func dialSocket(ctx context.Context, cfg Config) (framer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, err
	}
	return newSocketFramer(conn, cfg.MaxFrameSize), nil
}

func newSocketFramer(conn net.Conn, max int) *socketFramer {
	return &socketFramer{conn: conn, br: bufio.NewReader(conn), max: max}
}

func (s *socketFramer) ReadFrame() ([]byte, error) {
	return frame.ReadFrame(s.br, s.max)
}

func (s *socketFramer) WriteFrame(payload []byte) error {
	return frame.WriteFrame(s.conn, payload)
}

func (s *socketFramer) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *socketFramer) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

// A raw socket cannot tell a peer reset from an orderly close.
func (s *socketFramer) graceful(error) bool { return false }

func (s *socketFramer) Close() error { return s.conn.Close() }
