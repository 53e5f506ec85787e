package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the length of the frame length prefix.
	HeaderSize = 4

	// DefaultMaxFrameSize bounds a single payload. A peer announcing a larger
	// frame is treated as corrupt.
	DefaultMaxFrameSize = 64 << 20
)

// ErrFrameTooLarge is returned when a frame exceeds the configured maximum.
var ErrFrameTooLarge = errors.New("ipc: frame exceeds maximum size")

// AppendFrame appends the framed form of payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes payload as one frame with a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return ErrFrameTooLarge
	}
	_, err := w.Write(AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload))
	return err
}

// ReadFrame reads exactly one frame from r. A maxSize of zero means
// DefaultMaxFrameSize.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if uint64(n) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// Reassembler rebuilds frames from arbitrarily chunked byte deliveries.
//
// Chunks may split anywhere, including inside the length prefix. A frame is
// emitted only once all of its payload bytes have arrived.
type Reassembler struct {
	buf     []byte
	maxSize int
}

// NewReassembler returns a Reassembler. A maxSize of zero means
// DefaultMaxFrameSize.
func NewReassembler(maxSize int) *Reassembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Reassembler{maxSize: maxSize}
}

// Feed appends chunk to the internal buffer and returns every frame payload
// completed by it, in stream order. Returned payloads do not alias the
// internal buffer.
//
// After ErrFrameTooLarge the stream is unrecoverable.
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	r.buf = append(r.buf, chunk...)

	var frames [][]byte
	off := 0
	for len(r.buf)-off >= HeaderSize {
		n := binary.BigEndian.Uint32(r.buf[off : off+HeaderSize])
		if uint64(n) > uint64(r.maxSize) {
			r.buf = r.buf[off:]
			return frames, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, r.maxSize)
		}
		end := off + HeaderSize + int(n)
		if end > len(r.buf) {
			break
		}
		payload := make([]byte, n)
		copy(payload, r.buf[off+HeaderSize:end])
		frames = append(frames, payload)
		off = end
	}

	// Compact so the buffer does not grow with stream length.
	rest := len(r.buf) - off
	if off > 0 {
		copy(r.buf, r.buf[off:])
		r.buf = r.buf[:rest]
	}
	if rest == 0 && cap(r.buf) > 1<<20 {
		r.buf = nil
	}
	return frames, nil
}

// Buffered returns the number of bytes held waiting for a complete frame.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}
