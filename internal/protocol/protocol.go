package protocol

import (
	"bytes"
	"encoding"
	"fmt"
	"math"

	"github.com/blukai/noitarelay/internal/pbreader"
	"github.com/blukai/noitarelay/internal/zigzag"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the messages the relay looks into. They mirror the game's
// schema and must be kept in sync with it by hand.
const (
	// Envelope
	EnvelopeGameAction = 1

	// GameAction
	GameActionCPlayerMove = 1 // client -> server
	GameActionSPlayerMove = 2 // server -> clients
)

// CompactPlayerFrames field numbers.
const (
	FramesXInit     = 1  // double
	FramesXDeltas   = 2  // packed sint32
	FramesYInit     = 3  // double
	FramesYDeltas   = 4  // packed sint32
	FramesArmR      = 5  // packed uint32
	FramesArmScaleY = 6  // uint32 bitfield
	FramesScaleX    = 7  // uint32 bitfield
	FramesAnimIdx   = 8  // packed uint32
	FramesAnimVal   = 9  // packed sint32
	FramesHeldIdx   = 10 // packed uint32
	FramesHeldVal   = 11 // packed sint32
	FramesUserID    = 15 // bytes, set by the server only
)

// MaxFrames is the number of movement samples a single CompactPlayerFrames
// may carry; bitfields are 32 bits wide.
const MaxFrames = 32

// CompactPlayerFrames is the wire form of a batch of player movement
// samples. See framecodec for how the fields are derived.
type CompactPlayerFrames struct {
	XInit     float64
	XDeltas   []int32
	YInit     float64
	YDeltas   []int32
	ArmR      []uint32
	ArmScaleY uint32
	ScaleX    uint32
	AnimIdx   []uint32
	AnimVal   []int32
	HeldIdx   []uint32
	HeldVal   []int32
	UserID    []byte
}

var (
	_ encoding.BinaryMarshaler   = (*CompactPlayerFrames)(nil)
	_ encoding.BinaryUnmarshaler = (*CompactPlayerFrames)(nil)
)

func (f *CompactPlayerFrames) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 64+16*len(f.ArmR))

	buf = appendDouble(buf, FramesXInit, f.XInit)
	buf = appendPacked(buf, FramesXDeltas, f.XDeltas, encodeSint32)
	buf = appendDouble(buf, FramesYInit, f.YInit)
	buf = appendPacked(buf, FramesYDeltas, f.YDeltas, encodeSint32)
	buf = appendPacked(buf, FramesArmR, f.ArmR, encodeUint32)
	buf = appendUint32(buf, FramesArmScaleY, f.ArmScaleY)
	buf = appendUint32(buf, FramesScaleX, f.ScaleX)
	buf = appendPacked(buf, FramesAnimIdx, f.AnimIdx, encodeUint32)
	buf = appendPacked(buf, FramesAnimVal, f.AnimVal, encodeSint32)
	buf = appendPacked(buf, FramesHeldIdx, f.HeldIdx, encodeUint32)
	buf = appendPacked(buf, FramesHeldVal, f.HeldVal, encodeSint32)
	if len(f.UserID) > 0 {
		buf = protowire.AppendTag(buf, FramesUserID, protowire.BytesType)
		buf = protowire.AppendBytes(buf, f.UserID)
	}

	return buf, nil
}

func (f *CompactPlayerFrames) UnmarshalBinary(data []byte) error {
	d := fieldDecoder{data: data}

	*f = CompactPlayerFrames{
		XInit:     readLast(&d, FramesXInit, (*pbreader.Reader).Double),
		XDeltas:   readRepeated(&d, FramesXDeltas, (*pbreader.Reader).Sint32),
		YInit:     readLast(&d, FramesYInit, (*pbreader.Reader).Double),
		YDeltas:   readRepeated(&d, FramesYDeltas, (*pbreader.Reader).Sint32),
		ArmR:      readRepeated(&d, FramesArmR, (*pbreader.Reader).Uint32),
		ArmScaleY: readLast(&d, FramesArmScaleY, (*pbreader.Reader).Uint32),
		ScaleX:    readLast(&d, FramesScaleX, (*pbreader.Reader).Uint32),
		AnimIdx:   readRepeated(&d, FramesAnimIdx, (*pbreader.Reader).Uint32),
		AnimVal:   readRepeated(&d, FramesAnimVal, (*pbreader.Reader).Sint32),
		HeldIdx:   readRepeated(&d, FramesHeldIdx, (*pbreader.Reader).Uint32),
		HeldVal:   readRepeated(&d, FramesHeldVal, (*pbreader.Reader).Sint32),
		UserID:    bytes.Clone(readLast(&d, FramesUserID, (*pbreader.Reader).Bytes)),
	}

	return d.err
}

func appendDouble(buf []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(buf, math.Float64bits(v))
}

func appendUint32(buf []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, uint64(v))
}

func encodeSint32(v int32) uint64 { return uint64(zigzag.Encode32(v)) }
func encodeUint32(v uint32) uint64 { return uint64(v) }

func appendPacked[T int32 | uint32](buf []byte, num protowire.Number, values []T, encode func(T) uint64) []byte {
	if len(values) == 0 {
		return buf
	}

	size := 0
	for _, v := range values {
		size += protowire.SizeVarint(encode(v))
	}

	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	buf = protowire.AppendVarint(buf, uint64(size))
	for _, v := range values {
		buf = protowire.AppendVarint(buf, encode(v))
	}
	return buf
}

// fieldDecoder reads one field at a time from a fresh reader and keeps the
// first error.
type fieldDecoder struct {
	data []byte
	err  error
}

func readLast[T any](d *fieldDecoder, field uint32, read func(*pbreader.Reader) T) T {
	var v T
	if d.err != nil {
		return v
	}

	r := pbreader.NewReader(d.data)
	r.Each(field, func(sub *pbreader.Reader) {
		v = read(sub)
	})
	if err := r.Err(); err != nil {
		d.err = fmt.Errorf("could not read field %d: %w", field, err)
	}
	return v
}

func readRepeated[T any](d *fieldDecoder, field uint32, read func(*pbreader.Reader) T) []T {
	if d.err != nil {
		return nil
	}

	var values []T
	r := pbreader.NewReader(d.data)
	r.Each(field, func(sub *pbreader.Reader) {
		values = append(values, pbreader.Packed(sub, read)...)
	})
	if err := r.Err(); err != nil {
		d.err = fmt.Errorf("could not read field %d: %w", field, err)
	}
	return values
}
