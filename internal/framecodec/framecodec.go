// Package framecodec compresses batches of player movement samples into
// protocol.CompactPlayerFrames and back.
//
// Positions are delta coded with a fixed number of decimal digits, arm
// rotation is quantized, sign flags are packed into bitfields and the
// rarely changing animation/held-item values are stored as sparse runs.
// All coders are immutable values and safe for concurrent use.
package framecodec

import (
	"errors"
	"fmt"

	"github.com/blukai/noitarelay/internal/protocol"
)

var (
	ErrTooManyFrames = errors.New("framecodec: cannot compact more than 32 frames")
	ErrInvalidFrames = errors.New("framecodec: invalid compact frames")
	ErrInvalidConfig = errors.New("framecodec: invalid config")
)

type PlayerFrame struct {
	X    float32
	Y    float32
	ArmR float32 // radians, [-π, π]
	// ArmScaleY and ScaleX are -1 or 1.
	ArmScaleY int8
	ScaleX    int8
	Anim      int32
	Held      int32
}

type Config struct {
	// AngleBytes is the varint budget of a quantized arm rotation.
	AngleBytes int
	// DeltaDigits is the number of fractional decimal digits kept in
	// positions.
	DeltaDigits int
}

var DefaultConfig = Config{
	AngleBytes:  1,
	DeltaDigits: 1,
}

func (c Config) validate() error {
	// 4*7 bits is the most that stays below a 32-bit quantization factor.
	if c.AngleBytes < 1 || c.AngleBytes > 4 {
		return fmt.Errorf("%w: angle bytes %d (want 1..4)", ErrInvalidConfig, c.AngleBytes)
	}
	if c.DeltaDigits < 0 || c.DeltaDigits > 6 {
		return fmt.Errorf("%w: delta digits %d (want 0..6)", ErrInvalidConfig, c.DeltaDigits)
	}
	return nil
}

type Codec struct {
	angle AngleCoder
	delta DeltaCoder
}

func New(config Config) (*Codec, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Codec{
		angle: NewAngleCoder(config.AngleBytes),
		delta: NewDeltaCoder(config.DeltaDigits),
	}, nil
}

var defaultCodec = &Codec{
	angle: NewAngleCoder(DefaultConfig.AngleBytes),
	delta: NewDeltaCoder(DefaultConfig.DeltaDigits),
}

// Default returns the codec built from DefaultConfig.
func Default() *Codec {
	return defaultCodec
}

func (c *Codec) Angle() AngleCoder { return c.angle }
func (c *Codec) Delta() DeltaCoder { return c.delta }

// Compact encodes up to protocol.MaxFrames frames.
func (c *Codec) Compact(frames []PlayerFrame) (*protocol.CompactPlayerFrames, error) {
	n := len(frames)
	if n > protocol.MaxFrames {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyFrames, n)
	}

	cpf := &protocol.CompactPlayerFrames{
		ArmR: make([]uint32, n),
	}
	if n > 1 {
		cpf.XDeltas = make([]int32, n-1)
		cpf.YDeltas = make([]int32, n-1)
	}

	var err error
	cpf.XInit, err = c.delta.Encode(n,
		func(i int) float64 { return float64(frames[i].X) },
		func(i int, d int32) { cpf.XDeltas[i] = d },
	)
	if err != nil {
		return nil, fmt.Errorf("could not encode x: %w", err)
	}
	cpf.YInit, err = c.delta.Encode(n,
		func(i int) float64 { return float64(frames[i].Y) },
		func(i int, d int32) { cpf.YDeltas[i] = d },
	)
	if err != nil {
		return nil, fmt.Errorf("could not encode y: %w", err)
	}

	c.angle.Encode(n,
		func(i int) float32 { return frames[i].ArmR },
		func(i int, q uint32) { cpf.ArmR[i] = q },
	)

	cpf.ArmScaleY, err = EncodeBitfield(n, func(i int) int8 { return frames[i].ArmScaleY })
	if err != nil {
		return nil, fmt.Errorf("could not encode arm scale y: %w", err)
	}
	cpf.ScaleX, err = EncodeBitfield(n, func(i int) int8 { return frames[i].ScaleX })
	if err != nil {
		return nil, fmt.Errorf("could not encode scale x: %w", err)
	}

	cpf.AnimIdx, cpf.AnimVal = EncodeStableRuns(n, func(i int) int32 { return frames[i].Anim })
	cpf.HeldIdx, cpf.HeldVal = EncodeStableRuns(n, func(i int) int32 { return frames[i].Held })

	return cpf, nil
}

// Expand decodes cpf. The frame count is the number of arm rotations.
func (c *Codec) Expand(cpf *protocol.CompactPlayerFrames) ([]PlayerFrame, error) {
	n := len(cpf.ArmR)
	if n > protocol.MaxFrames {
		return nil, fmt.Errorf("%w: %d frames", ErrInvalidFrames, n)
	}
	if wantDeltas := max(n-1, 0); len(cpf.XDeltas) != wantDeltas || len(cpf.YDeltas) != wantDeltas {
		return nil, fmt.Errorf(
			"%w: %d frames with %d x deltas and %d y deltas",
			ErrInvalidFrames, n, len(cpf.XDeltas), len(cpf.YDeltas),
		)
	}
	if n == 0 {
		return []PlayerFrame{}, nil
	}

	frames := make([]PlayerFrame, n)

	c.delta.Decode(cpf.XInit, n,
		func(i int) int32 { return cpf.XDeltas[i] },
		func(i int, v float64) { frames[i].X = float32(v) },
	)
	c.delta.Decode(cpf.YInit, n,
		func(i int) int32 { return cpf.YDeltas[i] },
		func(i int, v float64) { frames[i].Y = float32(v) },
	)
	c.angle.Decode(n,
		func(i int) uint32 { return cpf.ArmR[i] },
		func(i int, v float32) { frames[i].ArmR = v },
	)
	DecodeBitfield(cpf.ArmScaleY, n, func(i int, v int8) { frames[i].ArmScaleY = v })
	DecodeBitfield(cpf.ScaleX, n, func(i int, v int8) { frames[i].ScaleX = v })

	if err := DecodeStableRuns(cpf.AnimIdx, cpf.AnimVal, n, func(i int, v int32) { frames[i].Anim = v }); err != nil {
		return nil, fmt.Errorf("could not decode anim: %w", err)
	}
	if err := DecodeStableRuns(cpf.HeldIdx, cpf.HeldVal, n, func(i int, v int32) { frames[i].Held = v }); err != nil {
		return nil, fmt.Errorf("could not decode held: %w", err)
	}

	return frames, nil
}

// EncodeFrames compacts frames and marshals them to CompactPlayerFrames
// wire bytes.
func (c *Codec) EncodeFrames(frames []PlayerFrame) ([]byte, error) {
	cpf, err := c.Compact(frames)
	if err != nil {
		return nil, err
	}
	return cpf.MarshalBinary()
}

// DecodeFrames unmarshals CompactPlayerFrames wire bytes and expands them.
func (c *Codec) DecodeFrames(data []byte) ([]PlayerFrame, error) {
	cpf := &protocol.CompactPlayerFrames{}
	if err := cpf.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("could not unmarshal compact frames: %w", err)
	}
	return c.Expand(cpf)
}

func EncodeFrames(frames []PlayerFrame) ([]byte, error) {
	return defaultCodec.EncodeFrames(frames)
}

func DecodeFrames(data []byte) ([]PlayerFrame, error) {
	return defaultCodec.DecodeFrames(data)
}
