// Package pbwriter synthesizes protobuf length-delimited framing around bytes
// that are already encoded, so an inner message can be re-wrapped without
// being decoded and encoded again.
package pbwriter

import (
	"errors"
	"fmt"
	"math"

	"github.com/blukai/noitarelay/internal/debug"
)

const wireLen = 2

var ErrRange = errors.New("pbwriter: length does not fit 32 bits")

// VarintSize returns the number of bytes the varint encoding of v occupies.
func VarintSize(v uint64) (int, error) {
	switch {
	case v <= 0x7f:
		return 1, nil
	case v <= 0x3fff:
		return 2, nil
	case v <= 0x1fffff:
		return 3, nil
	case v <= 0xfffffff:
		return 4, nil
	case v <= math.MaxUint32:
		return 5, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrRange, v)
	}
}

// WriteVarint writes v at buf[pos:] and returns the number of bytes written.
// buf must have room for VarintSize(v) bytes.
func WriteVarint(buf []byte, v uint32, pos int) int {
	start := pos
	for v > 0x7f {
		buf[pos] = byte(v) | 0x80
		v >>= 7
		pos++
	}
	buf[pos] = byte(v)
	return pos + 1 - start
}

// Tag returns the single-byte tag of a length-delimited field. Only field
// numbers 1 through 15 fit in one byte.
func Tag(field uint32) byte {
	debug.Assertf(field >= 1 && field <= 15, "field %d does not fit a single-byte tag", field)
	return byte(field<<3 | wireLen)
}

// HeaderSize is the size of a tag byte followed by the length varint of a
// payload of size bytes.
func HeaderSize(size int) (int, error) {
	if size < 0 {
		return 0, fmt.Errorf("%w: %d", ErrRange, size)
	}
	n, err := VarintSize(uint64(size))
	if err != nil {
		return 0, err
	}
	return 1 + n, nil
}

// WriteHeader writes tag and the length varint of size at buf[pos:] and
// returns the number of bytes written.
func WriteHeader(buf []byte, tag byte, size int, pos int) int {
	buf[pos] = tag
	return 1 + WriteVarint(buf, uint32(size), pos+1)
}

// FieldSize is the encoded size of a length-delimited field carrying size
// bytes of payload.
func FieldSize(size int) (int, error) {
	n, err := HeaderSize(size)
	if err != nil {
		return 0, err
	}
	return n + size, nil
}

// WriteField writes a complete length-delimited field at buf[pos:] and
// returns the position right after it.
func WriteField(buf []byte, tag byte, payload []byte, pos int) int {
	pos += WriteHeader(buf, tag, len(payload), pos)
	return pos + copy(buf[pos:], payload)
}

// Wrap allocates a buffer for payloadSize bytes nested inside one
// length-delimited header per tag (outermost first), writes the headers and
// returns the buffer along with the offset at which the payload goes.
func Wrap(tags []byte, payloadSize int) ([]byte, int, error) {
	if payloadSize < 0 {
		return nil, 0, fmt.Errorf("%w: %d", ErrRange, payloadSize)
	}

	// level sizes are computed inside-out: each level's payload is the
	// level below it plus that level's header.
	var sizesArr [8]int
	sizes := sizesArr[:]
	if len(tags) > len(sizesArr) {
		sizes = make([]int, len(tags))
	}

	total := payloadSize
	for i := len(tags) - 1; i >= 0; i-- {
		sizes[i] = total
		n, err := HeaderSize(total)
		if err != nil {
			return nil, 0, fmt.Errorf("could not size level %d: %w", i, err)
		}
		total += n
	}
	if uint64(total) > math.MaxUint32 {
		return nil, 0, fmt.Errorf("%w: %d", ErrRange, total)
	}

	buf := make([]byte, total)
	pos := 0
	for i, tag := range tags {
		pos += WriteHeader(buf, tag, sizes[i], pos)
	}
	debug.Assert(total-pos == payloadSize)

	return buf, pos, nil
}
