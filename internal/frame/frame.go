// Package frame implements the length-prefixed wire format used between chat
// clients, the server, and the bridge.
//
// Every message on the wire is a 4-byte unsigned big-endian length followed by
// exactly that many bytes of UTF-8 text. The prefix makes frame boundaries
// explicit regardless of how TCP segments or coalesces the stream, so payloads
// may contain arbitrary bytes, newlines included.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxFrame is the largest payload a frame may declare, in bytes.
// Frames declaring a larger length are a protocol violation.
const MaxFrame = 8 << 20

// headerLen is the size of the big-endian length prefix.
const headerLen = 4

// ErrFrameTooLarge reports a payload that exceeds MaxFrame. On the encode
// side it means the text must not be transmitted; on the decode side it is
// wrapped in a ProtocolError.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ProtocolError reports a violation of the framing protocol by the peer,
// such as an oversized declared length. The connection carrying it cannot
// be recovered and must be closed.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %v", e.Err) }

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConnectionError reports a stream that closed in the middle of a frame,
// header or payload. It is distinguishable from a clean close at a frame
// boundary, which Read reports as io.EOF.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("connection error: %v", e.Err) }

func (e *ConnectionError) Unwrap() error { return e.Err }

// Encode returns the wire form of text: a 4-byte big-endian length prefix
// followed by the UTF-8 payload. Every invalid UTF-8 byte is replaced with
// U+FFFD before encoding. Returns ErrFrameTooLarge if the payload exceeds
// MaxFrame; the caller must not transmit anything in that case.
func Encode(text string) ([]byte, error) {
	payload := []byte(replaceInvalidUTF8([]byte(text)))
	if len(payload) > MaxFrame {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint32(buf[:headerLen], uint32(len(payload)))
	copy(buf[headerLen:], payload)
	return buf, nil
}

// Write encodes text and writes it to w as a single Write call, header and
// payload together. Concurrent writers on the same stream must still
// serialize externally; a single call never interleaves header and payload.
func Write(w io.Writer, text string) error {
	buf, err := Encode(text)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

// Read reads one frame from r and returns its payload decoded as UTF-8 with
// lossy replacement of invalid sequences. A zero-length frame decodes to the
// empty string.
//
// A clean close before any header byte arrives returns io.EOF. A close in
// the middle of a header or payload returns a *ConnectionError. A declared
// length above MaxFrame returns a *ProtocolError wrapping ErrFrameTooLarge
// without attempting to read the payload.
func Read(r io.Reader) (string, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", &ConnectionError{Err: err}
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrame {
		return "", &ProtocolError{Err: fmt.Errorf("declared length %d: %w", length, ErrFrameTooLarge)}
	}
	if length == 0 {
		return "", nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", &ConnectionError{Err: err}
	}

	return replaceInvalidUTF8(payload), nil
}

// replaceInvalidUTF8 decodes b lossily, substituting one U+FFFD per invalid
// byte. strings.ToValidUTF8 is not used here: it collapses a whole run of
// invalid bytes into a single replacement.
func replaceInvalidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.Write(b[:size])
		}
		b = b[size:]
	}
	return sb.String()
}
