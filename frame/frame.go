// Package frame implements the length-prefixed framing used by the LPS game
// server on raw socket connections.
//
// Frame layout:
//
//	SIZE:<decimal byte count>\n
//	<payload, exactly byte count bytes>
//
// The header keyword is matched case-insensitively on read and a trailing
// carriage return before the newline is tolerated. Writers always emit the
// canonical upper-case form.
package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	HeaderPrefix      = "SIZE:"
	MaxHeaderLen      = 32              // "SIZE:" + up to 19 digits + line ending, with slack
	DefaultMaxPayload = 4 * 1024 * 1024 // 4 MB hard limit
)

var (
	ErrBadHeader       = errors.New("frame: malformed size header")
	ErrPayloadTooLarge = errors.New("frame: payload exceeds maximum size")
)

// IsProtocolError reports whether err means the byte stream can no longer be
// trusted: a malformed header, an oversized frame or a payload cut short.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrBadHeader) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// Encode serialises payload into a single header-prefixed frame.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(HeaderPrefix)+20+len(payload))
	out = append(out, HeaderPrefix...)
	out = strconv.AppendInt(out, int64(len(payload)), 10)
	out = append(out, '\n')
	return append(out, payload...)
}

// WriteFrame writes one frame to w with a single Write call so concurrent
// frames never interleave on writers that serialise calls.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(Encode(payload))
	return err
}

// ParseHeader parses a header line (with or without its line ending) and
// returns the announced payload size.
func ParseHeader(line string) (int, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < len(HeaderPrefix) || !strings.EqualFold(line[:len(HeaderPrefix)], HeaderPrefix) {
		return 0, fmt.Errorf("%w: %q", ErrBadHeader, line)
	}
	size, err := strconv.Atoi(strings.TrimSpace(line[len(HeaderPrefix):]))
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadHeader, line)
	}
	return size, nil
}

// ReadFrame reads exactly one frame from r. It returns io.EOF only when the
// stream ends cleanly between frames; a stream that ends mid-frame yields
// io.ErrUnexpectedEOF. maxPayload <= 0 selects DefaultMaxPayload.
func ReadFrame(r *bufio.Reader, maxPayload int) ([]byte, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	line, err := readHeaderLine(r)
	if err != nil {
		return nil, err
	}
	size, err := ParseHeader(line)
	if err != nil {
		return nil, err
	}
	if size > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, size, maxPayload)
	}

	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return payload, nil
}

func readHeaderLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if b == '\n' {
			return sb.String(), nil
		}
		if sb.Len() >= MaxHeaderLen {
			return "", fmt.Errorf("%w: header longer than %d bytes", ErrBadHeader, MaxHeaderLen)
		}
		sb.WriteByte(b)
	}
}
