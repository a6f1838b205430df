package framecodec_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/blukai/noitarelay/internal/framecodec"
	"github.com/blukai/noitarelay/internal/protocol"
	"github.com/matryer/is"
)

func makeFrames(n int) []framecodec.PlayerFrame {
	frames := make([]framecodec.PlayerFrame, n)
	for i := range frames {
		sign := int8(1)
		if i%3 == 0 {
			sign = -1
		}
		frames[i] = framecodec.PlayerFrame{
			X:         float32(i)*1.37 + 100,
			Y:         -float32(i)*0.61 - 50,
			ArmR:      float32(math.Sin(float64(i))) * math.Pi,
			ArmScaleY: sign,
			ScaleX:    -sign,
			Anim:      int32(i / 5),
			Held:      int32(i / 11 * 3),
		}
	}
	return frames
}

func assertFramesClose(is *is.I, codec *framecodec.Codec, got, want []framecodec.PlayerFrame) {
	is.Helper()

	is.Equal(len(got), len(want))
	// float32 storage of positions adds its own rounding
	posBound := codec.Delta().MaxError() + 1e-4
	armBound := codec.Angle().MaxError() + float32Slack
	for i := range want {
		is.True(math.Abs(float64(got[i].X-want[i].X)) <= posBound)
		is.True(math.Abs(float64(got[i].Y-want[i].Y)) <= posBound)
		is.True(math.Abs(float64(got[i].ArmR-want[i].ArmR)) <= armBound)
		is.Equal(got[i].ArmScaleY, want[i].ArmScaleY)
		is.Equal(got[i].ScaleX, want[i].ScaleX)
		is.Equal(got[i].Anim, want[i].Anim)
		is.Equal(got[i].Held, want[i].Held)
	}
}

func TestTwoFrames(t *testing.T) {
	is := is.New(t)

	frames := []framecodec.PlayerFrame{
		{X: 1, Y: 2, ArmR: 0.5, ArmScaleY: 1, ScaleX: -1, Anim: 3, Held: 0},
		{X: 3, Y: 4, ArmR: -0.5, ArmScaleY: -1, ScaleX: -1, Anim: 3, Held: 7},
	}

	data, err := framecodec.EncodeFrames(frames)
	is.NoErr(err)

	decoded, err := framecodec.DecodeFrames(data)
	is.NoErr(err)
	assertFramesClose(is, framecodec.Default(), decoded, frames)
	is.Equal(decoded[0].X, float32(1))
	is.Equal(decoded[1].Y, float32(4))
}

func TestCompactShape(t *testing.T) {
	is := is.New(t)

	frames := []framecodec.PlayerFrame{
		{X: 1, Y: 2, ArmScaleY: 1, ScaleX: 1, Anim: 0, Held: 4},
		{X: 1.5, Y: 2, ArmScaleY: -1, ScaleX: 1, Anim: 2, Held: 4},
		{X: 2, Y: 1, ArmScaleY: 1, ScaleX: 1, Anim: 2, Held: 4},
	}

	cpf, err := framecodec.Default().Compact(frames)
	is.NoErr(err)
	is.Equal(cpf.XInit, 1.0)
	is.Equal(cpf.XDeltas, []int32{5, 5})
	is.Equal(cpf.YInit, 2.0)
	is.Equal(cpf.YDeltas, []int32{0, -10})
	is.Equal(len(cpf.ArmR), 3)
	is.Equal(cpf.ArmScaleY, uint32(0b101))
	is.Equal(cpf.ScaleX, uint32(0b111))
	is.Equal(cpf.AnimIdx, []uint32{1})
	is.Equal(cpf.AnimVal, []int32{2})
	is.Equal(cpf.HeldIdx, []uint32{0})
	is.Equal(cpf.HeldVal, []int32{4})
}

func TestCodecPrecisions(t *testing.T) {
	for _, config := range []framecodec.Config{
		{AngleBytes: 1, DeltaDigits: 1},
		{AngleBytes: 2, DeltaDigits: 2},
		{AngleBytes: 3, DeltaDigits: 3},
	} {
		is := is.New(t)

		codec, err := framecodec.New(config)
		is.NoErr(err)

		frames := makeFrames(protocol.MaxFrames)
		data, err := codec.EncodeFrames(frames)
		is.NoErr(err)

		decoded, err := codec.DecodeFrames(data)
		is.NoErr(err)
		assertFramesClose(is, codec, decoded, frames)
	}
}

func TestFrameCap(t *testing.T) {
	is := is.New(t)

	_, err := framecodec.EncodeFrames(makeFrames(32))
	is.NoErr(err)

	_, err = framecodec.EncodeFrames(makeFrames(33))
	is.True(errors.Is(err, framecodec.ErrTooManyFrames))
	is.True(strings.Contains(err.Error(), "cannot compact more than 32 frames"))
}

func TestEmptyBatch(t *testing.T) {
	is := is.New(t)

	data, err := framecodec.EncodeFrames(nil)
	is.NoErr(err)
	is.Equal(len(data), 0)

	decoded, err := framecodec.DecodeFrames(data)
	is.NoErr(err)
	is.Equal(len(decoded), 0)
}

func TestSingleFrame(t *testing.T) {
	is := is.New(t)

	frames := []framecodec.PlayerFrame{{X: -12.5, Y: 7.25, ArmR: 1, ArmScaleY: -1, ScaleX: 1, Anim: 9, Held: -2}}
	cpf, err := framecodec.Default().Compact(frames)
	is.NoErr(err)
	is.Equal(len(cpf.XDeltas), 0)
	is.Equal(len(cpf.YDeltas), 0)

	decoded, err := framecodec.Default().Expand(cpf)
	is.NoErr(err)
	is.Equal(decoded[0].X, float32(-12.5))
	is.Equal(decoded[0].Y, float32(7.25))
	is.Equal(decoded[0].Anim, int32(9))
	is.Equal(decoded[0].Held, int32(-2))
}

func TestCompactRejectsBadSign(t *testing.T) {
	is := is.New(t)

	frames := makeFrames(4)
	frames[2].ScaleX = 0

	_, err := framecodec.EncodeFrames(frames)
	is.True(errors.Is(err, framecodec.ErrInvalidSign))
}

func TestExpandRejectsInconsistentFrames(t *testing.T) {
	is := is.New(t)

	codec := framecodec.Default()

	_, err := codec.Expand(&protocol.CompactPlayerFrames{
		ArmR:    []uint32{1, 2, 3},
		XDeltas: []int32{1},
		YDeltas: []int32{1, 2},
	})
	is.True(errors.Is(err, framecodec.ErrInvalidFrames))

	_, err = codec.Expand(&protocol.CompactPlayerFrames{
		ArmR:    make([]uint32, 33),
		XDeltas: make([]int32, 32),
		YDeltas: make([]int32, 32),
	})
	is.True(errors.Is(err, framecodec.ErrInvalidFrames))

	_, err = codec.Expand(&protocol.CompactPlayerFrames{
		ArmR:    []uint32{1, 2},
		XDeltas: []int32{1},
		YDeltas: []int32{1},
		AnimIdx: []uint32{0, 1},
		AnimVal: []int32{5},
	})
	is.True(errors.Is(err, framecodec.ErrRunMismatch))

	// no frames means no deltas either
	_, err = codec.Expand(&protocol.CompactPlayerFrames{XDeltas: []int32{1, 2}})
	is.True(errors.Is(err, framecodec.ErrInvalidFrames))
	_, err = codec.Expand(&protocol.CompactPlayerFrames{YDeltas: []int32{1}})
	is.True(errors.Is(err, framecodec.ErrInvalidFrames))

	frames, err := codec.Expand(&protocol.CompactPlayerFrames{})
	is.NoErr(err)
	is.Equal(len(frames), 0)
}

func TestDecodeFramesIgnoresUserID(t *testing.T) {
	is := is.New(t)

	frames := makeFrames(5)
	cpf, err := framecodec.Default().Compact(frames)
	is.NoErr(err)
	cpf.UserID = []byte("player-1")

	data, err := cpf.MarshalBinary()
	is.NoErr(err)

	decoded, err := framecodec.DecodeFrames(data)
	is.NoErr(err)
	assertFramesClose(is, framecodec.Default(), decoded, frames)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	is := is.New(t)

	_, err := framecodec.New(framecodec.Config{AngleBytes: 0, DeltaDigits: 1})
	is.True(errors.Is(err, framecodec.ErrInvalidConfig))

	_, err = framecodec.New(framecodec.Config{AngleBytes: 1, DeltaDigits: 7})
	is.True(errors.Is(err, framecodec.ErrInvalidConfig))
}
