package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"
	"github.com/klauspost/compress/flate"

	"github.com/quandastudio/lpsclient-go/frame"
)

const permessageDeflate = "permessage-deflate"

var deflateParams = wsflate.Parameters{
	ServerNoContextTakeover: true,
	ClientNoContextTakeover: true,
}

// peerClosed is returned by ReadFrame when the server sends a close frame.
type peerClosed struct {
	code   ws.StatusCode
	reason string
}

func (e *peerClosed) Error() string {
	return fmt.Sprintf("websocket closed by peer: %d %s", e.code, e.reason)
}

// wsFramer carries one frame payload per WebSocket message. The WebSocket
// layer already delimits messages, so no SIZE header is added.
type wsFramer struct {
	conn     net.Conn
	max      int
	compress bool

	rd   *wsutil.Reader
	rmsg wsflate.MessageState
	fr   *wsflate.Reader

	// wmu serialises data messages from the write goroutine with control
	// replies sent from the read goroutine.
	wmu       sync.Mutex
	wr        *wsutil.Writer
	wmsg      wsflate.MessageState
	fw        *wsflate.Writer
	closeSent bool
}

func dialWebSocket(ctx context.Context, cfg Config) (framer, error) {
	u := url.URL{Scheme: "ws", Host: cfg.Addr(), Path: cfg.Path}
	d := ws.Dialer{Timeout: cfg.ConnectTimeout}
	if cfg.Compression {
		d.Extensions = []httphead.Option{deflateParams.Option()}
	}

	conn, br, hs, err := d.Dial(ctx, u.String())
	if err != nil {
		return nil, err
	}

	// Frames sent right after the handshake may already sit in br.
	var src io.Reader = conn
	if br != nil {
		src = br
	}
	compress := cfg.Compression && deflateAccepted(hs.Extensions)
	cfg.Logger.Debug("websocket handshake complete", "url", u.String(), "compression", compress)
	return newWSFramer(conn, src, cfg.MaxFrameSize, compress), nil
}

func deflateAccepted(exts []httphead.Option) bool {
	for _, opt := range exts {
		if string(opt.Name) == permessageDeflate {
			return true
		}
	}
	return false
}

func newWSFramer(conn net.Conn, src io.Reader, max int, compress bool) *wsFramer {
	w := &wsFramer{conn: conn, max: max, compress: compress}
	state := ws.StateClientSide
	if compress {
		state |= ws.StateExtended
	}
	w.rd = &wsutil.Reader{
		Source:         src,
		State:          state,
		OnIntermediate: w.handleControl,
	}
	w.wr = wsutil.NewWriter(conn, state, ws.OpText)

	if compress {
		w.rd.Extensions = []wsutil.RecvExtension{&w.rmsg}
		w.fr = wsflate.NewReader(nil, func(r io.Reader) wsflate.Decompressor {
			return flate.NewReader(r)
		})
		w.wmsg.SetCompressed(true)
		w.wr.SetExtensions(&w.wmsg)
		w.fw = wsflate.NewWriter(nil, func(dst io.Writer) wsflate.Compressor {
			fw, _ := flate.NewWriter(dst, flate.BestSpeed)
			return fw
		})
	}
	return w
}

func (w *wsFramer) ReadFrame() ([]byte, error) {
	for {
		h, err := w.rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if h.OpCode.IsControl() {
			if err := w.handleControl(h, w.rd); err != nil {
				return nil, err
			}
			continue
		}
		if h.OpCode != ws.OpText && h.OpCode != ws.OpBinary {
			if err := w.rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		var src io.Reader = w.rd
		if w.compress && w.rmsg.IsCompressed() {
			w.fr.Reset(w.rd)
			src = w.fr
		}
		data, err := io.ReadAll(io.LimitReader(src, int64(w.max)+1))
		if err != nil {
			return nil, err
		}
		if len(data) > w.max {
			return nil, fmt.Errorf("%w: websocket message over %d bytes", frame.ErrPayloadTooLarge, w.max)
		}
		return data, nil
	}
}

func (w *wsFramer) handleControl(h ws.Header, r io.Reader) error {
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	switch h.OpCode {
	case ws.OpPing:
		return w.writeControl(ws.OpPong, payload)
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(payload)
		if code == 0 {
			code = ws.StatusNoStatusRcvd
		}
		_ = w.writeControl(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		return &peerClosed{code: code, reason: reason}
	}
	return nil
}

func (w *wsFramer) writeControl(op ws.OpCode, p []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if op == ws.OpClose {
		if w.closeSent {
			return nil
		}
		w.closeSent = true
	}
	return wsutil.WriteClientMessage(w.conn, op, p)
}

func (w *wsFramer) WriteFrame(payload []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()

	if w.compress {
		// A message ends with a sync flush; wsflate strips its empty block
		// tail. Closing the compressor would emit a final block instead.
		w.fw.Reset(w.wr)
		if _, err := w.fw.Write(payload); err != nil {
			return err
		}
		if err := w.fw.Flush(); err != nil {
			return err
		}
	} else if _, err := w.wr.Write(payload); err != nil {
		return err
	}
	return w.wr.Flush()
}

func (w *wsFramer) SetReadDeadline(t time.Time) error  { return w.conn.SetReadDeadline(t) }
func (w *wsFramer) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }

func (w *wsFramer) graceful(err error) bool {
	var pc *peerClosed
	if !errors.As(err, &pc) {
		return false
	}
	switch pc.code {
	case ws.StatusNormalClosure, ws.StatusGoingAway, ws.StatusNoStatusRcvd:
		return true
	}
	return false
}

// Close sends a normal close frame when the write path is idle, then
// closes the socket.
func (w *wsFramer) Close() error {
	if w.wmu.TryLock() {
		if !w.closeSent {
			w.closeSent = true
			_ = w.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = wsutil.WriteClientMessage(w.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		}
		w.wmu.Unlock()
	}
	return w.conn.Close()
}
