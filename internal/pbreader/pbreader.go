// Package pbreader locates and extracts individual fields of protobuf-encoded
// messages without decoding them into objects.
//
// A Reader is a cursor over a borrowed byte region. It has two kinds of
// sticky failure:
//
//   - invalid: the requested field is absent or the region is exhausted. This
//     is not an error; every scalar reader returns its zero value, so chains
//     like r.With(1).With(2).Int32() always yield a default.
//   - error: the wire data is malformed (see the Err* values). Err reports the
//     first one; scalar readers return zero values from then on.
//
// Readers derived with With, If and Each inherit their parent's error, and If
// and Each report a callback reader's error back to the parent.
package pbreader

import (
	"errors"
	"fmt"
	"math"

	"github.com/blukai/noitarelay/internal/byteorder"
	"github.com/blukai/noitarelay/internal/zigzag"
)

type WireType uint8

const (
	WireVarint WireType = 0
	WireI64    WireType = 1
	WireLen    WireType = 2
	WireSGroup WireType = 3
	WireEGroup WireType = 4
	WireI32    WireType = 5
)

var (
	ErrMalformedVarint   = errors.New("pbreader: malformed varint")
	ErrTruncated         = errors.New("pbreader: unexpected end of region")
	ErrUnknownWireType   = errors.New("pbreader: unknown wire type")
	ErrUnterminatedGroup = errors.New("pbreader: group without matching end")
	ErrWireTypeMismatch  = errors.New("pbreader: unexpected wire type")
	ErrInvalidBool       = errors.New("pbreader: invalid bool")
)

const (
	maxVarint64Len = 10
	// groups of 7 bits read into a 32-bit value before the width reduction
	// kicks in.
	varint32FastGroups = 4
	// continuation bytes left over when a 32-bit field was written as a
	// sign-extended 64-bit varint.
	varint32ExtraBytes = maxVarint64Len - varint32FastGroups - 1
)

type Reader struct {
	buf   []byte
	pos   int
	end   int
	valid bool
	tag   uint32
	err   error
}

func NewReader(buf []byte) *Reader {
	return &Reader{
		buf:   buf,
		pos:   0,
		end:   len(buf),
		valid: true,
	}
}

// Valid reports whether the reader can still produce values.
func (r *Reader) Valid() bool {
	return r.ok()
}

// Err returns the first malformed-data error the reader hit.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) AtEnd() bool {
	return r.pos >= r.end
}

// Tag returns the field number and wire type of the last tag read by Seek.
func (r *Reader) Tag() (uint32, WireType) {
	return r.tag >> 3, WireType(r.tag & 7)
}

func (r *Reader) ok() bool {
	return r.valid && r.err == nil
}

func (r *Reader) fail(err error) {
	r.valid = false
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) derive(start, end int, valid bool) *Reader {
	return &Reader{
		buf:   r.buf,
		pos:   start,
		end:   end,
		valid: valid && r.err == nil,
		err:   r.err,
	}
}

func (r *Reader) advance(n int) {
	if n < 0 || n > r.end-r.pos {
		r.fail(ErrTruncated)
		return
	}
	r.pos += n
}

func (r *Reader) readByte() (byte, bool) {
	if r.pos >= r.end {
		r.fail(ErrTruncated)
		return 0, false
	}
	b := r.buf[r.pos]
	r.pos++
	return b, true
}

// readVarint32 reads tags, lengths and 32-bit scalars. Negative int32 values
// arrive sign-extended to ten bytes; only the low 32 bits are kept and the
// remaining continuation bytes are consumed.
func (r *Reader) readVarint32() uint32 {
	var v uint32
	for i := 0; i < varint32FastGroups; i++ {
		b, ok := r.readByte()
		if !ok {
			return 0
		}
		v |= uint32(b&0x7f) << (7 * i)
		if b < 0x80 {
			return v
		}
	}

	b, ok := r.readByte()
	if !ok {
		return 0
	}
	v |= uint32(b&0x0f) << 28
	if b < 0x80 {
		return v
	}

	for i := 0; i < varint32ExtraBytes; i++ {
		b, ok := r.readByte()
		if !ok {
			return 0
		}
		if b < 0x80 {
			return v
		}
	}

	r.fail(ErrMalformedVarint)
	return 0
}

func (r *Reader) readVarint64() uint64 {
	var v uint64
	for i := 0; i < maxVarint64Len; i++ {
		b, ok := r.readByte()
		if !ok {
			return 0
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b < 0x80 {
			return v
		}
	}

	r.fail(ErrMalformedVarint)
	return 0
}

func (r *Reader) skipVarint() {
	for i := 0; i < maxVarint64Len; i++ {
		b, ok := r.readByte()
		if !ok || b < 0x80 {
			return
		}
	}
	r.fail(ErrMalformedVarint)
}

// Seek reads tags, skipping the payloads of other fields, until it finds
// field. The reader is left positioned at the payload. On exhaustion the
// reader becomes invalid and Seek returns false.
func (r *Reader) Seek(field uint32) bool {
	for r.ok() {
		if r.AtEnd() {
			r.valid = false
			return false
		}

		tag := r.readVarint32()
		if !r.ok() {
			return false
		}
		r.tag = tag

		if tag>>3 == field {
			return true
		}
		r.Skip()
	}
	return false
}

// Skip discards the payload of the field whose tag was read last.
func (r *Reader) Skip() {
	if !r.ok() {
		return
	}
	r.skip(WireType(r.tag&7), r.tag>>3)
}

func (r *Reader) skip(wireType WireType, field uint32) {
	switch wireType {
	case WireVarint:
		r.skipVarint()
	case WireI64:
		r.advance(8)
	case WireI32:
		r.advance(4)
	case WireLen:
		n := r.readVarint32()
		if r.ok() {
			r.advance(int(n))
		}
	case WireSGroup:
		r.skipGroup(field)
	case WireEGroup:
		// consumed by skipGroup
	default:
		r.fail(fmt.Errorf("%w: %d", ErrUnknownWireType, wireType))
	}
}

// skipGroup consumes fields up to and including the EGROUP tag matching
// field and returns the offset at which that tag starts.
func (r *Reader) skipGroup(field uint32) int {
	for r.ok() {
		if r.AtEnd() {
			r.fail(ErrUnterminatedGroup)
			break
		}

		start := r.pos
		tag := r.readVarint32()
		if !r.ok() {
			return start
		}

		wireType := WireType(tag & 7)
		if wireType == WireEGroup {
			if tag>>3 != field {
				r.fail(fmt.Errorf("%w: got end of %d; want %d", ErrUnterminatedGroup, tag>>3, field))
			}
			return start
		}
		r.skip(wireType, tag>>3)
	}
	return r.pos
}

// payload consumes the payload of the field whose tag was read last and
// returns its bounds.
func (r *Reader) payload() (int, int) {
	wireType := WireType(r.tag & 7)
	switch wireType {
	case WireLen:
		n := r.readVarint32()
		if !r.ok() {
			return r.pos, r.pos
		}
		start := r.pos
		r.advance(int(n))
		return start, r.pos
	case WireSGroup:
		start := r.pos
		end := r.skipGroup(r.tag >> 3)
		return start, end
	default:
		start := r.pos
		r.skip(wireType, r.tag>>3)
		return start, r.pos
	}
}

// With seeks to field, which must be length-delimited, and returns a reader
// scoped to its payload. If field is absent the returned reader is invalid.
func (r *Reader) With(field uint32) *Reader {
	if !r.Seek(field) {
		return r.derive(r.pos, r.pos, false)
	}

	if _, wireType := r.Tag(); wireType != WireLen {
		r.fail(fmt.Errorf(
			"%w: field %d (got %d; want %d)",
			ErrWireTypeMismatch, field, wireType, WireLen,
		))
		return r.derive(r.pos, r.pos, false)
	}

	start, end := r.payload()
	return r.derive(start, end, r.ok())
}

// If seeks to field and, when found, calls fn with a reader scoped to the
// field's payload. For scalar wire types the scope is the scalar's bytes. It
// reports whether fn was called without error.
func (r *Reader) If(field uint32, fn func(*Reader)) bool {
	// NOTE: Seek checks validity first; computing a payload width on an
	// exhausted reader would dispatch on a stale tag.
	if !r.Seek(field) {
		return false
	}

	start, end := r.payload()
	if !r.ok() {
		return false
	}

	sub := r.derive(start, end, true)
	fn(sub)
	if sub.err != nil {
		r.fail(sub.err)
		return false
	}
	return true
}

// Each calls fn for every occurrence of field, which is how repeated
// non-packed fields (and packed fields split over several records) are read.
func (r *Reader) Each(field uint32, fn func(*Reader)) {
	for r.If(field, fn) {
	}
}

func (r *Reader) Uint32() uint32 {
	if !r.ok() {
		return 0
	}
	return r.readVarint32()
}

func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

func (r *Reader) Sint32() int32 {
	return zigzag.Decode32(r.Uint32())
}

func (r *Reader) Enum() int32 {
	return int32(r.Uint32())
}

func (r *Reader) Uint64() uint64 {
	if !r.ok() {
		return 0
	}
	return r.readVarint64()
}

func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

func (r *Reader) Sint64() int64 {
	return zigzag.Decode64(r.Uint64())
}

func (r *Reader) Bool() bool {
	if !r.ok() {
		return false
	}
	switch v := r.readVarint64(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(fmt.Errorf("%w: %d", ErrInvalidBool, v))
		return false
	}
}

func (r *Reader) Fixed32() uint32 {
	if !r.ok() {
		return 0
	}
	if r.end-r.pos < 4 {
		r.fail(ErrTruncated)
		return 0
	}
	v := byteorder.Le32toh(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *Reader) Sfixed32() int32 {
	return int32(r.Fixed32())
}

func (r *Reader) Float() float32 {
	return math.Float32frombits(r.Fixed32())
}

func (r *Reader) Fixed64() uint64 {
	if !r.ok() {
		return 0
	}
	if r.end-r.pos < 8 {
		r.fail(ErrTruncated)
		return 0
	}
	v := byteorder.Le64toh(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *Reader) Sfixed64() int64 {
	return int64(r.Fixed64())
}

func (r *Reader) Double() float64 {
	return math.Float64frombits(r.Fixed64())
}

// Bytes returns everything up to the end of the reader's scope. The slice
// aliases the underlying buffer and must not be modified.
func (r *Reader) Bytes() []byte {
	if !r.ok() {
		return nil
	}
	b := r.buf[r.pos:r.end:r.end]
	r.pos = r.end
	return b
}

// Str reads a string field's payload. It is not named String so that a
// Reader never satisfies fmt.Stringer; formatting one would consume it.
func (r *Reader) Str() string {
	return string(r.Bytes())
}

// Packed reads values with read until the end of the reader's scope, e.g.
//
//	deltas := pbreader.Packed(sub, (*pbreader.Reader).Sint32)
func Packed[T any](r *Reader, read func(*Reader) T) []T {
	var values []T
	for r.ok() && !r.AtEnd() {
		v := read(r)
		if !r.ok() {
			break
		}
		values = append(values, v)
	}
	return values
}
