package quantize

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/jordanlister/KickbackApp/internal/safetensors"
)

// Entry describes one quantized tensor.
type Entry struct {
	Name           string
	Shape          []int
	From           safetensors.DType
	OriginalBytes  int64
	QuantizedBytes int64
	Params         Params
}

// Output is the mixed-precision tensor mapping written to disk.
type Output struct {
	Tensors     map[string]*safetensors.Tensor
	Quantized   []Entry // sorted by name
	Passthrough int
}

func (o *Output) NBytes() int64 {
	var n int64
	for _, t := range o.Tensors {
		n += t.NBytes()
	}
	return n
}

// Build quantizes every eligible tensor of m and copies the rest unchanged.
// ctx is checked between tensors.
func Build(ctx context.Context, m *Model) (*Output, error) {
	out := &Output{Tensors: make(map[string]*safetensors.Tensor, len(m.Tensors))}
	for _, name := range m.Names() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := m.Tensors[name]
		if !IsQuantizable(t) {
			out.Tensors[name] = t
			out.Passthrough++
			continue
		}
		for _, side := range []string{ScaleName(name), ZeroPointName(name)} {
			if _, taken := m.Tensors[side]; taken {
				return nil, &NameCollisionError{Name: side, Source: name}
			}
		}
		r, err := QuantizeTensor(t)
		if err != nil {
			return nil, err
		}
		for _, qt := range r.Tensors() {
			out.Tensors[qt.Name] = qt
		}
		out.Quantized = append(out.Quantized, Entry{
			Name:           name,
			Shape:          slices.Clone(t.Shape),
			From:           t.DType,
			OriginalBytes:  t.NBytes(),
			QuantizedBytes: r.NBytes(),
			Params:         r.Params,
		})
	}
	return out, nil
}

// Metadata is stored in the output header.
func Metadata() map[string]string {
	return map[string]string{
		"format":       "pt",
		"quantization": "int8-minmax",
		"dequantize":   "(q+128)*scale+zero_point",
	}
}

// Save writes out to path and returns the size of the written file. With
// verify set the file is checked by Verify before it replaces path, so a
// rejected file never reaches path.
func Save(path string, out *Output, verify bool) (int64, error) {
	var check func(string) error
	if verify {
		check = func(tmp string) error { return Verify(tmp, out) }
	}
	if _, err := safetensors.WriteFileFunc(path, out.Tensors, Metadata(), check); err != nil {
		return 0, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Verify re-opens path and checks that every quantized tensor of want is an I8
// tensor of the original shape accompanied by scalar scale and zero point
// entries holding the recorded parameters.
func Verify(path string, want *Output) error {
	f, err := safetensors.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if len(f.Tensors) != len(want.Tensors) {
		return fmt.Errorf("verify %s: expected %d tensors, found %d", path, len(want.Tensors), len(f.Tensors))
	}
	for _, e := range want.Quantized {
		info, ok := f.Info(e.Name)
		if !ok {
			return fmt.Errorf("verify %s: tensor %q missing", path, e.Name)
		}
		if info.DType != safetensors.I8 || !slices.Equal(info.Shape, e.Shape) {
			return fmt.Errorf("verify %s: tensor %q is %s%v, expected I8%v", path, e.Name, info.DType, info.Shape, e.Shape)
		}
		for side, v := range map[string]float32{
			ScaleName(e.Name):     e.Params.Scale,
			ZeroPointName(e.Name): e.Params.ZeroPoint,
		} {
			got, info, err := f.ReadTensorF32(side)
			if err != nil {
				return fmt.Errorf("verify %s: %w", path, err)
			}
			if len(info.Shape) != 0 {
				return fmt.Errorf("verify %s: %q has shape %v, expected a scalar", path, side, info.Shape)
			}
			if got[0] != v {
				return fmt.Errorf("verify %s: %q is %v, expected %v", path, side, got[0], v)
			}
		}
	}
	return nil
}
