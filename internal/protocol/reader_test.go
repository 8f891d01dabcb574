package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestReadVarInt_SingleByte(t *testing.T) {
	r := NewReader([]byte{0x01})
	v, err := r.ReadVarInt()
	if err != nil {
		t.Fatalf("ReadVarInt: %v", err)
	}
	if v != 1 {
		t.Errorf("ReadVarInt = %d, want 1", v)
	}
	if r.HasRemaining() {
		t.Error("cursor should be at end")
	}
}

func TestReadVarInt_TwoBytes(t *testing.T) {
	r := NewReader([]byte{0xAC, 0x02})
	v, err := r.ReadVarInt()
	if err != nil {
		t.Fatalf("ReadVarInt: %v", err)
	}
	if v != 300 {
		t.Errorf("ReadVarInt = %d, want 300", v)
	}
}

func TestVarInt_RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 300, 16383, 16384, 1 << 20, 1<<31 - 1, 1 << 31, ^uint32(0)}
	for _, want := range values {
		buf := AppendVarInt(nil, want)
		r := NewReader(buf)
		got, err := r.ReadVarInt()
		if err != nil {
			t.Fatalf("decode %d: %v", want, err)
		}
		if uint32(got) != want {
			t.Errorf("round-trip %d = %d", want, uint32(got))
		}
		if r.Remaining() != 0 {
			t.Errorf("round-trip %d left %d bytes", want, r.Remaining())
		}
	}
}

func TestVarLong_RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 15000, 140000, 1300000, 1 << 40, 1<<63 - 1, ^uint64(0)}
	for _, want := range values {
		buf := AppendVarLong(nil, want)
		r := NewReader(buf)
		got, err := r.ReadVarLong()
		if err != nil {
			t.Fatalf("decode %d: %v", want, err)
		}
		if uint64(got) != want {
			t.Errorf("round-trip %d = %d", want, uint64(got))
		}
	}
}

func TestVarShort_RoundTrip(t *testing.T) {
	for _, want := range []uint16{0, 1, 127, 128, 300, 65535} {
		buf := AppendVarShort(nil, want)
		r := NewReader(buf)
		got, err := r.ReadVarShort()
		if err != nil {
			t.Fatalf("decode %d: %v", want, err)
		}
		if uint16(got) != want {
			t.Errorf("round-trip %d = %d", want, uint16(got))
		}
	}
}

func TestReadVarInt_Overflow(t *testing.T) {
	// Five continuation bytes push the shift past 32 bits.
	r := NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	_, err := r.ReadVarInt()
	if !errors.Is(err, ErrMalformedVarInt) {
		t.Fatalf("err = %v, want ErrMalformedVarInt", err)
	}
	if r.Position() != 0 {
		t.Errorf("cursor advanced to %d on failed read", r.Position())
	}
}

func TestReadVarShort_Overflow(t *testing.T) {
	r := NewReader([]byte{0x80, 0x80, 0x80, 0x01})
	if _, err := r.ReadVarShort(); !errors.Is(err, ErrMalformedVarInt) {
		t.Fatalf("err = %v, want ErrMalformedVarInt", err)
	}
}

func TestReadVarInt_Truncated(t *testing.T) {
	r := NewReader([]byte{0x80})
	_, err := r.ReadVarInt()
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if r.Position() != 0 {
		t.Errorf("cursor advanced to %d on failed read", r.Position())
	}
}

func TestFixedWidthReads(t *testing.T) {
	buf := []byte{
		0xFF,                   // byte -1 / ubyte 255
		0x01, 0x02,             // short 0x0102
		0x00, 0x00, 0x00, 0x2A, // int 42
		0x01, // bool true
	}
	r := NewReader(buf)

	b, err := r.ReadByte()
	if err != nil || b != -1 {
		t.Errorf("ReadByte = %d, %v; want -1", b, err)
	}
	s, err := r.ReadShort()
	if err != nil || s != 0x0102 {
		t.Errorf("ReadShort = %d, %v; want 258", s, err)
	}
	i, err := r.ReadInt()
	if err != nil || i != 42 {
		t.Errorf("ReadInt = %d, %v; want 42", i, err)
	}
	ok, err := r.ReadBoolean()
	if err != nil || !ok {
		t.Errorf("ReadBoolean = %v, %v; want true", ok, err)
	}
	if r.HasRemaining() {
		t.Error("expected cursor at end")
	}
}

func TestReadLong(t *testing.T) {
	buf := []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0xE2, 0x40, // 123456
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, // -1
	}
	r := NewReader(buf)
	v, err := r.ReadLong()
	if err != nil || v != 123456 {
		t.Errorf("ReadLong = %d, %v; want 123456", v, err)
	}
	v, err = r.ReadLong()
	if err != nil || v != -1 {
		t.Errorf("ReadLong = %d, %v; want -1", v, err)
	}

	short := NewReader([]byte{0x00, 0x01})
	if _, err := short.ReadLong(); !errors.Is(err, ErrTruncated) {
		t.Errorf("truncated ReadLong = %v, want ErrTruncated", err)
	}
}

func TestReadFloatDouble(t *testing.T) {
	buf := []byte{
		0x3F, 0x80, 0x00, 0x00, // float32(1.0)
		0x40, 0x09, 0x21, 0xFB, 0x54, 0x44, 0x2D, 0x18, // float64(pi)
	}
	r := NewReader(buf)
	f, err := r.ReadFloat()
	if err != nil || f != 1.0 {
		t.Errorf("ReadFloat = %v, %v; want 1.0", f, err)
	}
	d, err := r.ReadDouble()
	if err != nil || d != math.Pi {
		t.Errorf("ReadDouble = %v, %v; want pi", d, err)
	}
	if r.HasRemaining() {
		t.Error("expected cursor at end")
	}
}

func TestReadUTFVarInt(t *testing.T) {
	s := "marché"
	buf := AppendVarInt(nil, uint32(len(s)))
	buf = append(buf, s...)
	r := NewReader(buf)
	got, err := r.ReadUTFVarInt()
	if err != nil {
		t.Fatalf("ReadUTFVarInt: %v", err)
	}
	if got != s {
		t.Errorf("ReadUTFVarInt = %q, want %q", got, s)
	}
	if r.HasRemaining() {
		t.Error("expected cursor at end")
	}
}

func TestReadUTFVarInt_TruncatedBody(t *testing.T) {
	buf := AppendVarInt(nil, 5)
	buf = append(buf, 'h', 'i')
	r := NewReader(buf)
	if _, err := r.ReadUTFVarInt(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if r.Position() != 0 {
		t.Error("cursor moved past length prefix on failed read")
	}
}

func TestReadUnsignedShort_Truncated(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.ReadUnsignedShort(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if r.Position() != 0 {
		t.Error("cursor moved on failed read")
	}
}

func TestReadUTF(t *testing.T) {
	buf := []byte{0x00, 0x05, 'h', 'e', 'l', 'l', 'o'}
	r := NewReader(buf)
	s, err := r.ReadUTF()
	if err != nil {
		t.Fatalf("ReadUTF: %v", err)
	}
	if s != "hello" {
		t.Errorf("ReadUTF = %q, want hello", s)
	}
}

func TestReadUTF_TruncatedBody(t *testing.T) {
	r := NewReader([]byte{0x00, 0x05, 'h', 'i'})
	if _, err := r.ReadUTF(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if r.Position() != 0 {
		t.Error("cursor moved past length prefix on failed read")
	}
}

func TestReadByteArray(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	buf := AppendVarInt(nil, uint32(len(payload)))
	buf = append(buf, payload...)
	r := NewReader(buf)
	got, err := r.ReadByteArray()
	if err != nil {
		t.Fatalf("ReadByteArray: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadByteArray = %x, want %x", got, payload)
	}
}

func TestSeekSkipReset(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4})
	if err := r.Skip(2); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if r.Position() != 2 || r.Remaining() != 2 {
		t.Errorf("after Skip: pos=%d remaining=%d", r.Position(), r.Remaining())
	}
	if err := r.Seek(1); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if r.Position() != 1 {
		t.Errorf("after Seek: pos=%d", r.Position())
	}
	r.Reset()
	if r.Position() != 0 {
		t.Errorf("after Reset: pos=%d", r.Position())
	}
	if err := r.Skip(5); !errors.Is(err, ErrTruncated) {
		t.Errorf("Skip past end = %v, want ErrTruncated", err)
	}
	if err := r.Seek(-1); !errors.Is(err, ErrTruncated) {
		t.Errorf("Seek(-1) = %v, want ErrTruncated", err)
	}
}

func TestHexPreview(t *testing.T) {
	r := NewReader([]byte{0xAB, 0xCD, 0xEF})
	if got := r.HexPreview(2); got != "abcd" {
		t.Errorf("HexPreview(2) = %q, want abcd", got)
	}
	if got := r.HexPreview(16); got != "abcdef" {
		t.Errorf("HexPreview(16) = %q, want abcdef", got)
	}
}

func TestEmptyBuffer(t *testing.T) {
	r := NewReader(nil)
	if r.HasRemaining() {
		t.Error("empty buffer should have nothing remaining")
	}
	if _, err := r.ReadUnsignedByte(); !errors.Is(err, ErrTruncated) {
		t.Errorf("read on empty = %v, want ErrTruncated", err)
	}
}
