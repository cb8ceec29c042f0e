// Package framer implements partake's wire framing: each message is a
// 4-byte little-endian length prefix followed by that many payload bytes,
// the whole frame padded with zero bytes up to the next 8-byte boundary.
// Grounded on common/message.hpp's async_message_reader/async_message_writer,
// adapted from their FlatBuffers-prefix framing to a plain length prefix
// since this repository's payloads are surge-encoded, not FlatBuffers.
package framer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Alignment is the frame boundary every message is padded to.
	Alignment = 8
	// MaxFrameLen is the largest frame this implementation will accept.
	// A frame (prefix + payload + padding) larger than this is a
	// protocol-fatal error.
	MaxFrameLen = 32768

	prefixLen            = 4
	initialReadBufSize   = 1024
)

// ErrFrameTooLong is returned when a frame would exceed MaxFrameLen.
var ErrFrameTooLong = errors.New("framer: message frame exceeds maximum length")

// ErrTruncated is returned when the underlying reader reaches EOF in the
// middle of a frame.
var ErrTruncated = errors.New("framer: connection closed mid-frame")

// RoundUpToAlignment rounds s up to the next multiple of Alignment.
func RoundUpToAlignment(s int) int {
	return (s + Alignment - 1) &^ (Alignment - 1)
}

// FrameSize returns the total frame length (prefix + payload + padding)
// implied by a length prefix value of payloadLen, i.e. what
// ReadMessageFrameSize would compute once the prefix bytes are known.
func FrameSize(payloadLen uint32) int {
	return RoundUpToAlignment(prefixLen + int(payloadLen))
}

// ReadMessageFrameSize inspects the first 4 bytes of buf (if present) and
// returns the total frame length they imply, or 0 if buf does not yet
// contain a full length prefix.
func ReadMessageFrameSize(buf []byte) int {
	if len(buf) < prefixLen {
		return 0
	}
	payloadLen := binary.LittleEndian.Uint32(buf)
	return FrameSize(payloadLen)
}

// EncodeFrame returns payload wrapped in a length-prefixed, alignment-padded
// frame ready to write to a connection.
func EncodeFrame(payload []byte) ([]byte, error) {
	total := FrameSize(uint32(len(payload)))
	if total > MaxFrameLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, total)
	}
	frame := make([]byte, total)
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[prefixLen:], payload)
	return frame, nil
}

// Reader delimits frames out of a byte stream, growing its internal buffer
// (starting at 1024 bytes, up to MaxFrameLen) as needed to hold the largest
// frame seen so far. The zero Reader is not usable; use NewReader.
type Reader struct {
	r      io.Reader
	buf    []byte
	filled int
}

// NewReader returns a Reader that delimits frames read from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, buf: make([]byte, initialReadBufSize)}
}

// ReadFrame returns the next message payload (with framing stripped), or an
// error. io.EOF is returned only at a clean frame boundary (no partial
// frame pending); a peer that disconnects mid-frame yields ErrTruncated.
func (fr *Reader) ReadFrame() ([]byte, error) {
	for {
		if frameSize := ReadMessageFrameSize(fr.buf[:fr.filled]); frameSize > 0 && frameSize <= fr.filled {
			payloadLen := binary.LittleEndian.Uint32(fr.buf)
			payload := make([]byte, payloadLen)
			copy(payload, fr.buf[prefixLen:prefixLen+int(payloadLen)])
			fr.consume(frameSize)
			return payload, nil
		}

		if err := fr.fill(); err != nil {
			return nil, err
		}
	}
}

// consume drops the first n bytes of the filled region, shifting the rest
// to the front of the buffer.
func (fr *Reader) consume(n int) {
	copy(fr.buf, fr.buf[n:fr.filled])
	fr.filled -= n
}

// fill reads more bytes into the buffer, growing it first if the pending
// partial frame (if any) would not fit.
func (fr *Reader) fill() error {
	if needed := ReadMessageFrameSize(fr.buf[:fr.filled]); needed > 0 {
		if needed > MaxFrameLen {
			return ErrFrameTooLong
		}
		if needed > len(fr.buf) {
			fr.grow(needed)
		}
	} else if fr.filled == len(fr.buf) {
		// No full prefix yet but the buffer is already full: grow so the
		// prefix itself has room to complete.
		fr.grow(len(fr.buf) + 1)
	}

	n, err := fr.r.Read(fr.buf[fr.filled:])
	fr.filled += n
	if err != nil {
		if errors.Is(err, io.EOF) {
			if fr.filled > 0 {
				return ErrTruncated
			}
			return io.EOF
		}
		return err
	}
	return nil
}

// grow resizes the buffer to at least needed bytes, growing by 1.5x each
// step (capped at MaxFrameLen) to keep resizes infrequent.
func (fr *Reader) grow(needed int) {
	size := len(fr.buf)
	for size < needed {
		size = size * 3 / 2
		if size > MaxFrameLen {
			size = MaxFrameLen
		}
		if size < needed && size == len(fr.buf) {
			size = needed
		}
	}
	if size < needed {
		size = needed
	}
	grown := make([]byte, size)
	copy(grown, fr.buf[:fr.filled])
	fr.buf = grown
}

// WriteFrame writes payload to w as a single framed message.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
