// Package wire moves length-prefixed frames and raw transfer sizes over a stream.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultMaxFrame bounds the declared length of a single frame.
	DefaultMaxFrame = 512 * 1024
	headerLen       = 4
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrEmptyFrame    = errors.New("empty frame")
	ErrNegativeSize  = errors.New("negative transfer size")
)

// WriteFrame writes the 4-byte big-endian length of payload followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerLen:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame. A declared length above limit fails with ErrFrameTooLarge
// before any of the body is consumed.
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("reading frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	// a length with the sign bit set is what a signed writer produces for negatives
	if int32(n) < 0 || int64(n) > int64(limit) {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, int32(n), limit)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return body, nil
}

// WriteSize writes a file length as an 8-byte big-endian integer.
func WriteSize(w io.Writer, size int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(size))
	if _, err := w.Write(b[:]); err != nil {
		return fmt.Errorf("writing size: %w", err)
	}
	return nil
}

// ReadSize reads a length written by WriteSize.
func ReadSize(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("reading size: %w", err)
	}
	size := int64(binary.BigEndian.Uint64(b[:]))
	if size < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeSize, size)
	}
	return size, nil
}
