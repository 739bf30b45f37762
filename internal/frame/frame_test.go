package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

// TestRoundTrip verifies that payloads written with Write are read back
// unchanged, including payloads containing newlines and NUL bytes.
func TestRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"hello",
		"multi\nline\npayload",
		"embedded\x00nul",
		"acentuação e emoji \U0001F680",
		strings.Repeat("x", 64*1024),
	}

	for _, want := range cases {
		var buf bytes.Buffer
		if err := Write(&buf, want); err != nil {
			t.Fatalf("Write(%q...): %v", truncate(want), err)
		}

		got, err := Read(&buf)
		if err != nil {
			t.Fatalf("Read after Write(%q...): %v", truncate(want), err)
		}
		if got != want {
			t.Errorf("round trip mismatch: got %q, want %q", truncate(got), truncate(want))
		}
	}
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}

// TestZeroLengthFrame verifies that an empty frame decodes to the empty
// string rather than being mistaken for end of stream.
func TestZeroLengthFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, ""); err != nil {
		t.Fatalf("Write empty frame: %v", err)
	}
	if buf.Len() != 4 {
		t.Fatalf("empty frame should be header only, got %d bytes", buf.Len())
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read empty frame: %v", err)
	}
	if got != "" {
		t.Errorf("empty frame decoded to %q", got)
	}
}

// TestInvalidUTF8Replaced verifies lossy decoding of payloads that are not
// valid UTF-8.
func TestInvalidUTF8Replaced(t *testing.T) {
	payload := []byte{'a', 0xff, 0xfe, 'b'}
	var buf bytes.Buffer
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	buf.Write(header)
	buf.Write(payload)

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := "a��b"
	if got != want {
		t.Errorf("lossy decode: got %q, want %q", got, want)
	}

	// Encode mirrors the decode policy: one replacement per invalid byte.
	encoded, err := Encode(string([]byte{'a', 0xff, 0xfe, 'b'}))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(encoded[4:]) != want {
		t.Errorf("lossy encode: got %q, want %q", encoded[4:], want)
	}
}

// TestEncodeTooLarge verifies that Encode refuses payloads above MaxFrame.
func TestEncodeTooLarge(t *testing.T) {
	_, err := Encode(strings.Repeat("y", MaxFrame+1))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Encode oversized payload: got %v, want ErrFrameTooLarge", err)
	}

	var buf bytes.Buffer
	if err := Write(&buf, strings.Repeat("y", MaxFrame+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Write oversized payload: got %v, want ErrFrameTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Errorf("oversized Write emitted %d bytes, want none", buf.Len())
	}
}

// trackingReader counts how many bytes Read consumed past the header.
type trackingReader struct {
	r         io.Reader
	headerLen int
	consumed  int
}

func (tr *trackingReader) Read(p []byte) (int, error) {
	n, err := tr.r.Read(p)
	tr.consumed += n
	return n, err
}

// TestOversizedHeaderRejectedWithoutPayloadRead verifies that a header
// declaring a length above MaxFrame fails with a ProtocolError and that no
// payload bytes are consumed.
func TestOversizedHeaderRejectedWithoutPayloadRead(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, MaxFrame+1)
	buf.Write(header)
	// Payload bytes the reader must never touch.
	buf.Write([]byte("should not be read"))

	tr := &trackingReader{r: &buf, headerLen: 4}
	_, err := Read(tr)

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("Read oversized header: got %v, want *ProtocolError", err)
	}
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("ProtocolError does not wrap ErrFrameTooLarge: %v", err)
	}
	if tr.consumed > tr.headerLen {
		t.Errorf("Read consumed %d bytes past the header", tr.consumed-tr.headerLen)
	}
}

// TestCleanCloseReturnsEOF verifies that a stream closed at a frame boundary
// reports io.EOF, not a connection error.
func TestCleanCloseReturnsEOF(t *testing.T) {
	_, err := Read(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Read on empty stream: got %v, want io.EOF", err)
	}
}

// TestMidFrameCloseIsConnectionError verifies that streams truncated inside
// the header or the payload report a ConnectionError.
func TestMidFrameCloseIsConnectionError(t *testing.T) {
	full, err := Encode("truncated payload")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for _, cut := range []int{1, 3, 4, len(full) - 1} {
		_, err := Read(bytes.NewReader(full[:cut]))
		var cerr *ConnectionError
		if !errors.As(err, &cerr) {
			t.Errorf("Read of %d/%d bytes: got %v, want *ConnectionError", cut, len(full), err)
		}
		if errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("mid-frame close must not look like a clean close: %v", err)
		}
	}
}

// TestShortReadsReassembled verifies that Read loops over short reads on
// both the header and the payload.
func TestShortReadsReassembled(t *testing.T) {
	want := "reassembled across many tiny reads"
	full, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Read(iotest.OneByteReader(bytes.NewReader(full)))
	if err != nil {
		t.Fatalf("Read over one-byte reads: %v", err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
