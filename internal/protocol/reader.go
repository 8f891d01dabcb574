// Package protocol decodes the game client's wire format: big-endian
// framing, 7-bit continuation varints, and zlib-wrapped container
// messages carrying auction-house price lists.
package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
)

// Sentinel decode failures. Reads never partially advance the cursor:
// on error the position is exactly where it was before the call.
var (
	ErrTruncated       = errors.New("truncated payload")
	ErrMalformedVarInt = errors.New("malformed varint")
)

// Reader is a cursor over a byte buffer with network (big-endian) order.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf without copying it.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Position returns the current cursor offset.
func (r *Reader) Position() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// HasRemaining reports whether any unread bytes remain.
func (r *Reader) HasRemaining() bool { return r.pos < len(r.buf) }

// Reset moves the cursor back to the start of the buffer.
func (r *Reader) Reset() { r.pos = 0 }

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return fmt.Errorf("%w: seek %d in %d-byte buffer", ErrTruncated, pos, len(r.buf))
	}
	r.pos = pos
	return nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: skip %d with %d remaining", ErrTruncated, n, r.Remaining())
	}
	r.pos += n
	return nil
}

// HexPreview returns up to max unread bytes as a hex string, for
// diagnostics on parse failures.
func (r *Reader) HexPreview(max int) string {
	end := r.pos + max
	if end > len(r.buf) {
		end = len(r.buf)
	}
	return hex.EncodeToString(r.buf[r.pos:end])
}

// take returns the next n bytes and advances, or fails without moving.
func (r *Reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadUnsignedByte reads one byte.
func (r *Reader) ReadUnsignedByte() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadByte reads one signed byte.
func (r *Reader) ReadByte() (int8, error) {
	v, err := r.ReadUnsignedByte()
	return int8(v), err
}

// ReadBoolean reads one byte; any non-zero value is true.
func (r *Reader) ReadBoolean() (bool, error) {
	v, err := r.ReadUnsignedByte()
	return v != 0, err
}

// ReadUnsignedShort reads a big-endian uint16.
func (r *Reader) ReadUnsignedShort() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadShort reads a big-endian int16.
func (r *Reader) ReadShort() (int16, error) {
	v, err := r.ReadUnsignedShort()
	return int16(v), err
}

// ReadUnsignedInt reads a big-endian uint32.
func (r *Reader) ReadUnsignedInt() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadInt reads a big-endian int32.
func (r *Reader) ReadInt() (int32, error) {
	v, err := r.ReadUnsignedInt()
	return int32(v), err
}

// ReadLong reads a big-endian int64.
func (r *Reader) ReadLong() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadFloat reads a big-endian IEEE-754 float32.
func (r *Reader) ReadFloat() (float32, error) {
	v, err := r.ReadUnsignedInt()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadDouble reads a big-endian IEEE-754 float64.
func (r *Reader) ReadDouble() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// readVarUint decodes a 7-bit continuation varint of at most width bits.
// Each byte contributes bits 0-6, low group first; bit 7 set means more.
func (r *Reader) readVarUint(width uint) (uint64, error) {
	var v uint64
	var shift uint
	pos := r.pos
	for {
		if pos >= len(r.buf) {
			return 0, fmt.Errorf("%w: varint ended mid-value", ErrTruncated)
		}
		b := r.buf[pos]
		pos++
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			r.pos = pos
			return v, nil
		}
		shift += 7
		if shift >= width {
			return 0, fmt.Errorf("%w: continuation past %d bits", ErrMalformedVarInt, width)
		}
	}
}

// ReadVarInt decodes a varint of at most 32 bits.
func (r *Reader) ReadVarInt() (int32, error) {
	v, err := r.readVarUint(32)
	return int32(uint32(v)), err
}

// ReadVarShort decodes a varint of at most 16 bits.
func (r *Reader) ReadVarShort() (int16, error) {
	v, err := r.readVarUint(16)
	return int16(uint16(v)), err
}

// ReadVarLong decodes a varint of at most 64 bits.
func (r *Reader) ReadVarLong() (int64, error) {
	v, err := r.readVarUint(64)
	return int64(v), err
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrTruncated, n)
	}
	return r.take(n)
}

// ReadUTF reads an unsigned-short length prefix then that many UTF-8 bytes.
func (r *Reader) ReadUTF() (string, error) {
	start := r.pos
	n, err := r.ReadUnsignedShort()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		r.pos = start
		return "", err
	}
	return string(b), nil
}

// ReadUTFVarInt reads a varint length prefix then that many UTF-8 bytes.
func (r *Reader) ReadUTFVarInt() (string, error) {
	b, err := r.ReadByteArray()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadByteArray reads a varint length prefix then that many bytes.
func (r *Reader) ReadByteArray() ([]byte, error) {
	start := r.pos
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		r.pos = start
		return nil, fmt.Errorf("%w: negative array length %d", ErrTruncated, n)
	}
	b, err := r.take(int(n))
	if err != nil {
		r.pos = start
		return nil, err
	}
	return b, nil
}

// AppendVarInt appends the varint encoding of v to dst.
func AppendVarInt(dst []byte, v uint32) []byte {
	return appendVarUint(dst, uint64(v))
}

// AppendVarShort appends the varint encoding of v to dst.
func AppendVarShort(dst []byte, v uint16) []byte {
	return appendVarUint(dst, uint64(v))
}

// AppendVarLong appends the varint encoding of v to dst.
func AppendVarLong(dst []byte, v uint64) []byte {
	return appendVarUint(dst, v)
}

func appendVarUint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}
