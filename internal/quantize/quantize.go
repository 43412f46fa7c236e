// Package quantize converts floating point weight tensors to int8 with one
// min/max affine scale per tensor.
//
// For a tensor w with minimum lo and maximum hi:
//
//	scale      = (hi - lo) / 255
//	zero_point = lo
//	q          = clamp(round((w - zero_point) / scale), 0, 255) - 128
//	w'         = (q + 128) * scale + zero_point
//
// A constant tensor (hi == lo) has scale 0; every element quantizes to -128 and
// dequantizes back to zero_point exactly.
package quantize

import (
	"errors"
	"fmt"
	"math"

	"github.com/jordanlister/KickbackApp/internal/safetensors"
)

const (
	levels = 255
	offset = 128

	ScaleSuffix     = ".scale"
	ZeroPointSuffix = ".zero_point"
)

var ErrNonFinite = errors.New("tensor contains non-finite values")

func ScaleName(name string) string     { return name + ScaleSuffix }
func ZeroPointName(name string) string { return name + ZeroPointSuffix }

// IsQuantizable reports whether t is an F32/F16/BF16 tensor of rank >= 2 with
// at least one element. Everything else passes through unchanged.
func IsQuantizable(t *safetensors.Tensor) bool {
	switch t.DType {
	case safetensors.F32, safetensors.F16, safetensors.BF16:
	default:
		return false
	}
	return t.Rank() >= 2 && t.NumElements() > 0
}

// Params are the per-tensor quantization parameters.
type Params struct {
	Scale     float32
	ZeroPoint float32
}

// ComputeParams derives Params from the global min and max of values.
func ComputeParams(values []float32) (Params, error) {
	if len(values) == 0 {
		return Params{}, errors.New("no values")
	}
	lo, hi := values[0], values[0]
	for i, v := range values {
		if !finite(v) {
			return Params{}, fmt.Errorf("%w (element %d is %v)", ErrNonFinite, i, v)
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	// The range is taken in float64: hi-lo can overflow float32.
	scale := float32((float64(hi) - float64(lo)) / levels)
	if scale == 0 && hi != lo {
		// A subnormal range still needs a non-zero step.
		scale = math.SmallestNonzeroFloat32
	}
	return Params{Scale: scale, ZeroPoint: lo}, nil
}

// Quantize maps values to int8 under p.
func Quantize(values []float32, p Params) []int8 {
	out := make([]int8, len(values))
	if p.Scale == 0 {
		for i := range out {
			out[i] = -offset
		}
		return out
	}
	scale, zp := float64(p.Scale), float64(p.ZeroPoint)
	for i, v := range values {
		x := math.Round((float64(v) - zp) / scale)
		if x < 0 {
			x = 0
		} else if x > levels {
			x = levels
		}
		out[i] = int8(int(x) - offset)
	}
	return out
}

// Dequantize inverts Quantize up to one quantization step.
func Dequantize(q []int8, p Params) []float32 {
	out := make([]float32, len(q))
	scale, zp := float64(p.Scale), float64(p.ZeroPoint)
	for i, v := range q {
		out[i] = float32((float64(v)+offset)*scale + zp)
	}
	return out
}

// Result holds the three output entries produced for one quantized tensor.
type Result struct {
	Tensor    *safetensors.Tensor
	Scale     *safetensors.Tensor
	ZeroPoint *safetensors.Tensor
	Params    Params
}

func (r *Result) NBytes() int64 {
	return r.Tensor.NBytes() + r.Scale.NBytes() + r.ZeroPoint.NBytes()
}

func (r *Result) Tensors() []*safetensors.Tensor {
	return []*safetensors.Tensor{r.Tensor, r.Scale, r.ZeroPoint}
}

// QuantizeTensor quantizes a tensor accepted by IsQuantizable. The side-car
// scalars are F32 regardless of the source dtype.
func QuantizeTensor(t *safetensors.Tensor) (*Result, error) {
	if !IsQuantizable(t) {
		return nil, fmt.Errorf("tensor %s: %s%v is not quantizable", t.Name, t.DType, t.Shape)
	}
	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	p, err := ComputeParams(values)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", t.Name, err)
	}
	return &Result{
		Tensor:    safetensors.NewI8(t.Name, t.Shape, Quantize(values, p)),
		Scale:     safetensors.NewScalarF32(ScaleName(t.Name), p.Scale),
		ZeroPoint: safetensors.NewScalarF32(ZeroPointName(t.Name), p.ZeroPoint),
		Params:    p,
	}, nil
}

func finite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}
