// Package proto implements the ejabberd external authentication wire format:
// 2-byte big-endian length-prefixed frames carrying colon-delimited commands,
// and the fixed 4-byte boolean reply.
package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// headerSize is the length of the big-endian frame length prefix.
	headerSize = 2
	// MaxFrameSize is the largest payload a 2-byte length prefix can describe.
	MaxFrameSize = math.MaxUint16
)

var (
	// ErrTruncatedFrame means the stream ended inside a length prefix or
	// before the declared number of payload bytes arrived.
	ErrTruncatedFrame = errors.New("proto: truncated frame")
	// ErrFrameTooLarge means a payload does not fit a 2-byte length prefix.
	ErrFrameTooLarge = errors.New("proto: frame too large")
)

var (
	replyTrue  = []byte{0x00, 0x02, 0x00, 0x01}
	replyFalse = []byte{0x00, 0x02, 0x00, 0x00}
)

// ReadFrame blocks until one complete frame has been read from r and returns
// its payload.
//
// io.EOF is returned unchanged when r ends cleanly before the first header
// byte. A stream that ends anywhere inside a frame yields ErrTruncatedFrame.
// Any other read error is returned as is.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short length prefix: %w", ErrTruncatedFrame, err)
		}
		return nil, err
	}

	length := binary.BigEndian.Uint16(header[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d payload bytes: %w", ErrTruncatedFrame, length, io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return payload, nil
}

// EncodeFrame prepends the 2-byte big-endian length of payload.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint16(out[:headerSize], uint16(len(payload)))
	copy(out[headerSize:], payload)
	return out, nil
}

// WriteFrame encodes payload and writes it with a single Write call, so
// nothing reaches w when encoding fails.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// EncodeBoolReply returns the complete reply frame for v: 00 02 00 01 for
// true and 00 02 00 00 for false.
func EncodeBoolReply(v bool) []byte {
	src := replyFalse
	if v {
		src = replyTrue
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out
}
