package protocol

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/tinytelemetry/logtally/internal/model"
)

const (
	// HeaderSize is the fixed frame header: one type byte and eight hex digits.
	HeaderSize = 1 + lengthDigits

	// MaxPayloadSize is the largest payload eight hex digits can describe.
	MaxPayloadSize = 0xFFFFFFFF

	// DefaultChunkSize is the slice size used for socket reads and writes.
	DefaultChunkSize = model.DefaultChunkSize

	lengthDigits = 8
)

var (
	// ErrInvalidHeader indicates a length field that is not eight hex digits.
	ErrInvalidHeader = errors.New("protocol: invalid header")
	// ErrPayloadTooLarge indicates a payload that does not fit the length field.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	// ErrTruncated indicates the stream ended before a full frame arrived.
	ErrTruncated = errors.New("protocol: truncated message")
)

// Encode returns the wire form of one message.
func Encode(t Type, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(payload))
	putHeader(buf, t, len(payload))
	return append(buf, payload...), nil
}

// ReadMessage decodes exactly one message from r, reading in
// DefaultChunkSize slices.
func ReadMessage(r io.Reader) (Message, error) {
	return readMessage(r, DefaultChunkSize)
}

// WriteMessage writes one message to w in DefaultChunkSize slices.
func WriteMessage(w io.Writer, t Type, payload []byte) error {
	return writeMessage(w, t, payload, DefaultChunkSize)
}

// Codec frames messages over a single stream. It holds no state between
// calls and is not safe for concurrent use.
type Codec struct {
	rw        io.ReadWriter
	chunkSize int
}

// NewCodec wraps rw. A chunkSize <= 0 selects DefaultChunkSize.
func NewCodec(rw io.ReadWriter, chunkSize int) *Codec {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Codec{rw: rw, chunkSize: chunkSize}
}

// ChunkSize returns the slice size used for reads and writes.
func (c *Codec) ChunkSize() int { return c.chunkSize }

// Send writes one message.
func (c *Codec) Send(t Type, payload []byte) error {
	return writeMessage(c.rw, t, payload, c.chunkSize)
}

// SendString writes one message with a text payload.
func (c *Codec) SendString(t Type, payload string) error {
	return writeMessage(c.rw, t, []byte(payload), c.chunkSize)
}

// Receive blocks until one complete message has been read.
func (c *Codec) Receive() (Message, error) {
	return readMessage(c.rw, c.chunkSize)
}

func putHeader(dst []byte, t Type, n int) {
	dst[0] = byte(t)
	copy(dst[1:HeaderSize], fmt.Sprintf("%0*x", lengthDigits, n))
}

func parseHeader(hdr []byte) (Type, int, error) {
	n, err := strconv.ParseUint(string(hdr[1:HeaderSize]), 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: length %q", ErrInvalidHeader, hdr[1:HeaderSize])
	}
	return Type(hdr[0]), int(n), nil
}

func writeMessage(w io.Writer, t Type, payload []byte, chunkSize int) error {
	if uint64(len(payload)) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	var hdr [HeaderSize]byte
	putHeader(hdr[:], t, len(payload))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("protocol: write header: %w", err)
	}
	for off := 0; off < len(payload); off += chunkSize {
		end := min(off+chunkSize, len(payload))
		if _, err := w.Write(payload[off:end]); err != nil {
			return fmt.Errorf("protocol: write payload: %w", err)
		}
	}
	return nil
}

func readMessage(r io.Reader, chunkSize int) (Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, fmt.Errorf("%w: header: %w", ErrTruncated, err)
	}
	t, n, err := parseHeader(hdr[:])
	if err != nil {
		return Message{}, err
	}

	// Grow with the data actually received rather than trusting the header.
	payload := make([]byte, 0, min(n, chunkSize))
	for len(payload) < n {
		start := len(payload)
		want := min(n-start, chunkSize)
		payload = slices.Grow(payload, want)[:start+want]
		if _, err := io.ReadFull(r, payload[start:]); err != nil {
			return Message{}, fmt.Errorf("%w: payload (%d of %d bytes): %w", ErrTruncated, start, n, err)
		}
	}
	return Message{Type: t, Payload: payload}, nil
}
