package framecodec

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrTooManyValues = errors.New("framecodec: cannot encode more than 32 values")
	ErrInvalidSign   = errors.New("framecodec: invalid value")
	ErrRunMismatch   = errors.New("framecodec: invalid stable runs")
	ErrDeltaRange    = errors.New("framecodec: delta does not fit int32")
)

// AngleCoder quantizes radians in [-π, π] to integers that fit a varint of
// a fixed number of bytes.
type AngleCoder struct {
	factor float64
}

// the divisor leaves headroom so that π maps strictly below factor.
const angleSpan = 2*math.Pi + 1

func NewAngleCoder(targetBytes int) AngleCoder {
	return AngleCoder{factor: math.Exp2(float64(7 * targetBytes))}
}

// MaxError is the largest difference between an angle and its decoded
// quantization.
func (c AngleCoder) MaxError() float64 {
	return angleSpan / c.factor
}

func (c AngleCoder) EncodeAngle(v float32) uint32 {
	q := math.Floor((float64(v) + math.Pi) * c.factor / angleSpan)
	switch {
	case !(q >= 0): // catches NaN too
		return 0
	case q >= c.factor:
		return uint32(c.factor - 1)
	}
	return uint32(q)
}

func (c AngleCoder) DecodeAngle(q uint32) float32 {
	return float32(float64(q)*angleSpan/c.factor - math.Pi)
}

func (c AngleCoder) Encode(n int, get func(i int) float32, set func(i int, q uint32)) {
	for i := 0; i < n; i++ {
		set(i, c.EncodeAngle(get(i)))
	}
}

func (c AngleCoder) Decode(n int, get func(i int) uint32, set func(i int, v float32)) {
	for i := 0; i < n; i++ {
		set(i, c.DecodeAngle(get(i)))
	}
}

// DeltaCoder stores a sequence as its first value followed by fixed-point
// deltas with a given number of fractional decimal digits.
//
// Each delta is taken against the value the decoder will have reconstructed
// so far, not against the previous input, which keeps the error of every
// decoded value within 0.5/factor no matter how long the sequence is.
type DeltaCoder struct {
	factor float64
}

func NewDeltaCoder(fractionalDigits int) DeltaCoder {
	return DeltaCoder{factor: math.Pow(10, float64(fractionalDigits))}
}

// MaxError is the largest difference between a value and its decoding.
func (c DeltaCoder) MaxError() float64 {
	return 0.5 / c.factor
}

// Encode returns the first of n values and calls set with the n-1 deltas.
func (c DeltaCoder) Encode(n int, get func(i int) float64, set func(i int, delta int32)) (float64, error) {
	if n == 0 {
		return 0, nil
	}

	init := get(0)
	running := init
	for i := 1; i < n; i++ {
		d := math.Floor((get(i)-running)*c.factor + 0.5)
		if !(d >= math.MinInt32 && d <= math.MaxInt32) {
			return 0, fmt.Errorf("%w: frame %d", ErrDeltaRange, i)
		}
		delta := int32(d)
		set(i-1, delta)
		running += float64(delta) / c.factor
	}
	return init, nil
}

// Decode calls set with n values rebuilt from init and the n-1 deltas
// returned by get.
func (c DeltaCoder) Decode(init float64, n int, get func(i int) int32, set func(i int, v float64)) {
	if n == 0 {
		return
	}

	cum := init
	set(0, cum)
	for i := 1; i < n; i++ {
		cum += float64(get(i-1)) / c.factor
		set(i, cum)
	}
}

// EncodeBitfield packs up to 32 values of -1 or 1, bit i set when value i
// is 1.
func EncodeBitfield(n int, get func(i int) int8) (uint32, error) {
	if n > 32 {
		return 0, fmt.Errorf("%w: got %d", ErrTooManyValues, n)
	}

	var bits uint32
	for i := 0; i < n; i++ {
		v := get(i)
		if v != -1 && v != 1 {
			return 0, fmt.Errorf("%w: %d at %d (want -1 or 1)", ErrInvalidSign, v, i)
		}
		bits |= uint32((v+1)>>1) << uint32(i)
	}
	return bits, nil
}

// DecodeBitfield reads the first n bits; the rest are ignored.
func DecodeBitfield(bits uint32, n int, set func(i int, v int8)) {
	for i := 0; i < n && i < 32; i++ {
		bit := int8((bits >> uint32(i)) & 1)
		set(i, (bit<<1)-1)
	}
}

// EncodeStableRuns records (index, value) only where the value differs
// from the one before it; the value before index 0 is taken to be 0.
func EncodeStableRuns(n int, get func(i int) int32) ([]uint32, []int32) {
	var idx []uint32
	var val []int32

	var last int32
	for i := 0; i < n; i++ {
		v := get(i)
		if v == last {
			continue
		}
		idx = append(idx, uint32(i))
		val = append(val, v)
		last = v
	}
	return idx, val
}

// DecodeStableRuns replays runs over n values, holding each value until the
// next recorded index. Indices that are out of order or past n are skipped.
func DecodeStableRuns(idx []uint32, val []int32, n int, set func(i int, v int32)) error {
	if len(idx) != len(val) {
		return fmt.Errorf("%w: %d indices, %d values", ErrRunMismatch, len(idx), len(val))
	}

	var cur int32
	j := 0
	for i := 0; i < n; i++ {
		for j < len(idx) && idx[j] < uint32(i) {
			j++
		}
		for j < len(idx) && idx[j] == uint32(i) {
			cur = val[j]
			j++
		}
		set(i, cur)
	}
	return nil
}
