package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Tensor is a named tensor held in memory. Data is little-endian, C order.
type Tensor struct {
	Name  string
	DType DType
	Shape []int
	Data  []byte
}

func (t *Tensor) Rank() int { return len(t.Shape) }

// NumElements is the product of the shape; 1 for a scalar.
func (t *Tensor) NumElements() int {
	n, err := numElements(t.Shape)
	if err != nil {
		return 0
	}
	return n
}

func (t *Tensor) NBytes() int64 { return int64(len(t.Data)) }

// Float32s decodes a floating point tensor into float32 values.
func (t *Tensor) Float32s() ([]float32, error) {
	if !t.DType.IsFloat() {
		return nil, fmt.Errorf("tensor %s: unsupported dtype %s", t.Name, t.DType)
	}
	n := t.NumElements()
	if sz := t.DType.Size(); sz > 0 && len(t.Data) != n*sz {
		return nil, fmt.Errorf("tensor %s: invalid %s data size %d for %d elements", t.Name, t.DType, len(t.Data), n)
	}
	switch t.DType {
	case F32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
		}
		return out, nil
	case F16:
		out := make([]float32, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.Data[i*2:])).Float32()
		}
		return out, nil
	case BF16:
		out := bfloat16.DecodeFloat32(t.Data)
		if out == nil {
			out = []float32{}
		}
		return out, nil
	case F64:
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(t.Data[i*8:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tensor %s: unsupported dtype %s", t.Name, t.DType)
	}
}

func (t *Tensor) Int8s() ([]int8, error) {
	if t.DType != I8 {
		return nil, fmt.Errorf("tensor %s: expected I8, got %s", t.Name, t.DType)
	}
	out := make([]int8, len(t.Data))
	for i, b := range t.Data {
		out[i] = int8(b)
	}
	return out, nil
}

// ScalarF32 returns the value of a rank-0 floating point tensor.
func (t *Tensor) ScalarF32() (float32, error) {
	if t.Rank() != 0 {
		return 0, fmt.Errorf("tensor %s: expected scalar, got shape %v", t.Name, t.Shape)
	}
	v, err := t.Float32s()
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func NewF32(name string, shape []int, values []float32) *Tensor {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return &Tensor{Name: name, DType: F32, Shape: cloneShape(shape), Data: data}
}

func NewF16(name string, shape []int, values []float32) *Tensor {
	data := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
	}
	return &Tensor{Name: name, DType: F16, Shape: cloneShape(shape), Data: data}
}

func NewBF16(name string, shape []int, values []float32) *Tensor {
	data := bfloat16.EncodeFloat32(values)
	if data == nil {
		data = []byte{}
	}
	return &Tensor{Name: name, DType: BF16, Shape: cloneShape(shape), Data: data}
}

func NewI8(name string, shape []int, values []int8) *Tensor {
	data := make([]byte, len(values))
	for i, v := range values {
		data[i] = byte(v)
	}
	return &Tensor{Name: name, DType: I8, Shape: cloneShape(shape), Data: data}
}

func NewScalarF32(name string, v float32) *Tensor {
	return NewF32(name, []int{}, []float32{v})
}

func cloneShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if d != 0 && n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}
