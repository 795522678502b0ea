// Package codec implements the kernel's canonical binary encoding (spec
// §4.1): a total, platform-independent serialization used for every type
// written to disk, hashed, or compared. It is hand-rolled rather than
// built on the teacher's cbor dependency because the spec's wire layout is
// bit-exact and hand-specified (fixed-width big-endian integers,
// length-prefixed strings/bytes, sorted-key maps, stable sum-type
// discriminants) — CBOR's own canonical mode does not produce this exact
// byte layout. The shape (buffer-then-write Writer/Reader pair, bounded
// reads, wrapped errors) is grounded on the teacher's core/planfmt
// writer.go/reader.go.
package codec

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cathedral-fabric/fabric/internal/kernel/kerr"
)

// MaxLength bounds any single length-prefixed field to guard against
// corrupt or adversarial input inflating an allocation (spec §4.1
// EncodingOverflow).
const MaxLength = 64 << 20 // 64 MiB

// Writer appends canonical-encoded primitives to an internal buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Bool writes a single 0x00/0x01 byte.
func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 0x01)
	} else {
		w.buf = append(w.buf, 0x00)
	}
}

// U8 writes a single byte.
func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

// U32 writes a big-endian uint32.
func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// U64 writes a big-endian uint64.
func (w *Writer) U64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// I64 writes a big-endian int64 (two's complement).
func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

// Raw appends fixed-width bytes with no length prefix, e.g. a 16-byte id
// or 32-byte hash whose length is implicit in the type.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Bytes16 writes an id's 16 raw bytes.
func (w *Writer) Bytes16(b [16]byte) { w.buf = append(w.buf, b[:]...) }

// Bytes32 writes a hash's 32 raw bytes.
func (w *Writer) Bytes32(b [32]byte) { w.buf = append(w.buf, b[:]...) }

// ByteString writes a length-prefixed byte array: u32 length + bytes.
func (w *Writer) ByteString(b []byte) {
	w.U32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// String writes a length-prefixed UTF-8 string: u32 length + bytes.
func (w *Writer) String(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// OptionalAbsent writes the 0x00 absent tag.
func (w *Writer) OptionalAbsent() { w.U8(0x00) }

// OptionalPresent writes the 0x01 present tag; the caller encodes the
// value immediately after.
func (w *Writer) OptionalPresent() { w.U8(0x01) }

// Discriminant writes a sum type's stable numeric tag.
func (w *Writer) Discriminant(tag uint32) { w.U32(tag) }

// SeqHeader writes a sequence's u32 length; the caller encodes elements in
// source order immediately after.
func (w *Writer) SeqHeader(n int) { w.U32(uint32(n)) }

// MapEntry is one key/value pair of a keyed mapping prior to canonical
// ordering.
type MapEntry struct {
	KeyBytes   []byte // the key, already canonically encoded
	ValueBytes []byte // the value, already canonically encoded
}

// Map writes a keyed mapping: u32 length + (key,value) pairs ordered by
// canonical-encoded key bytes, lexicographic (spec §4.1).
func (w *Writer) Map(entries []MapEntry) {
	sorted := make([]MapEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return lessBytes(sorted[i].KeyBytes, sorted[j].KeyBytes)
	})
	w.SeqHeader(len(sorted))
	for _, e := range sorted {
		w.buf = append(w.buf, e.KeyBytes...)
		w.buf = append(w.buf, e.ValueBytes...)
	}
}

func lessBytes(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Reader decodes canonical-encoded primitives from a byte slice,
// advancing an internal cursor. All reads are bounds-checked; a read past
// the end of the buffer or a length field exceeding MaxLength fails with
// kerr.InvalidEncoding / kerr.EncodingOverflow respectively.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for canonical decoding.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Remaining reports how many bytes are left to read.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Done reports whether the reader has consumed the entire buffer.
func (r *Reader) Done() bool { return r.pos >= len(r.buf) }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, kerr.New(kerr.InvalidEncoding, "negative length")
	}
	if r.pos+n > len(r.buf) {
		return nil, kerr.New(kerr.InvalidEncoding, "unexpected end of buffer")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Bool reads a single 0x00/0x01 byte.
func (r *Reader) Bool() (bool, error) {
	b, err := r.take(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, kerr.New(kerr.InvalidEncoding, fmt.Sprintf("invalid bool tag 0x%02x", b[0]))
	}
}

// U8 reads a single byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U32 reads a big-endian uint32.
func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// U64 reads a big-endian uint64.
func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// I64 reads a big-endian int64.
func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

// Bytes16 reads 16 raw bytes, e.g. an id.
func (r *Reader) Bytes16() ([16]byte, error) {
	b, err := r.take(16)
	if err != nil {
		return [16]byte{}, err
	}
	var out [16]byte
	copy(out[:], b)
	return out, nil
}

// Bytes32 reads 32 raw bytes, e.g. a hash.
func (r *Reader) Bytes32() ([32]byte, error) {
	b, err := r.take(32)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

func (r *Reader) boundedLength() (int, error) {
	n, err := r.U32()
	if err != nil {
		return 0, err
	}
	if n > MaxLength {
		return 0, kerr.New(kerr.EncodingOverflow, fmt.Sprintf("length %d exceeds max %d", n, MaxLength))
	}
	return int(n), nil
}

// ByteString reads a length-prefixed byte array.
func (r *Reader) ByteString() ([]byte, error) {
	n, err := r.boundedLength()
	if err != nil {
		return nil, err
	}
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// String reads a length-prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	b, err := r.ByteString()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// OptionalTag reads the 0x00/0x01 optional tag, reporting whether a value
// follows.
func (r *Reader) OptionalTag() (bool, error) {
	return r.Bool()
}

// Discriminant reads a sum type's numeric tag.
func (r *Reader) Discriminant() (uint32, error) { return r.U32() }

// SeqHeader reads a sequence's element count, bounded by MaxLength.
func (r *Reader) SeqHeader() (int, error) { return r.boundedLength() }

// EncodeOptionalBytes is a helper for the common "optional fixed-size hash"
// shape used throughout event/snapshot encoding.
func EncodeOptionalBytes(w *Writer, present bool, encode func(*Writer)) {
	if !present {
		w.OptionalAbsent()
		return
	}
	w.OptionalPresent()
	encode(w)
}

// DecodeOptional is the Reader-side counterpart: it reads the tag and, if
// present, invokes decode and reports ok=true.
func DecodeOptional(r *Reader, decode func(*Reader) error) (ok bool, err error) {
	present, err := r.OptionalTag()
	if err != nil {
		return false, err
	}
	if !present {
		return false, nil
	}
	if err := decode(r); err != nil {
		return false, err
	}
	return true, nil
}

// Marshaler is implemented by every type with a canonical encoding.
type Marshaler interface {
	MarshalCanonical(w *Writer)
}

// Unmarshaler is implemented by every type with a canonical decoding.
type Unmarshaler interface {
	UnmarshalCanonical(r *Reader) error
}

// Encode runs v's MarshalCanonical against a fresh Writer and returns the
// resulting bytes.
func Encode(v Marshaler) []byte {
	w := NewWriter()
	v.MarshalCanonical(w)
	return w.Bytes()
}

// Decode runs v's UnmarshalCanonical against b, failing if trailing bytes
// remain (a canonical encoding has no padding).
func Decode(b []byte, v Unmarshaler) error {
	r := NewReader(b)
	if err := v.UnmarshalCanonical(r); err != nil {
		return err
	}
	if !r.Done() {
		return kerr.New(kerr.InvalidEncoding, "trailing bytes after decode")
	}
	return nil
}
