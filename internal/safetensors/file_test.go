package safetensors

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
)

// writeRaw creates a safetensors file from a literal header and data section.
func writeRaw(t *testing.T, path string, header map[string]any, data []byte) {
	t.Helper()
	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer func() { _ = f.Close() }()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		t.Fatalf("write header len: %v", err)
	}
	if _, err := f.Write(headerBytes); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write data: %v", err)
	}
}

func entry(dtype string, shape []int, start, end int64) map[string]any {
	return map[string]any{
		"dtype":        dtype,
		"shape":        shape,
		"data_offsets": []int64{start, end},
	}
}

func f32Bytes(values ...float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func TestOpenValidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.safetensors")
	writeRaw(t, path, map[string]any{
		"weight": entry("F32", []int{2, 3}, 0, 24),
	}, make([]byte, 24))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if f.Path != path {
		t.Fatalf("expected path %q, got %q", path, f.Path)
	}
	info, ok := f.Info("weight")
	if !ok {
		t.Fatal("tensor 'weight' not found")
	}
	if info.DType != F32 {
		t.Fatalf("expected dtype F32, got %q", info.DType)
	}
	if len(info.Shape) != 2 || info.Shape[0] != 2 || info.Shape[1] != 3 {
		t.Fatalf("unexpected shape: %v", info.Shape)
	}
	if info.Size() != 24 {
		t.Fatalf("expected 24 bytes, got %d", info.Size())
	}
}

func TestOpenNonexistentFile(t *testing.T) {
	t.Parallel()
	_, err := Open("/nonexistent/file.safetensors")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestOpenRejectsBadFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header map[string]any
		data   []byte
	}{
		{"offsets out of bounds", map[string]any{"a": entry("F32", []int{4}, 0, 16)}, make([]byte, 8)},
		{"inverted offsets", map[string]any{"a": entry("F32", []int{2}, 8, 0)}, make([]byte, 8)},
		{"size mismatch", map[string]any{"a": entry("F32", []int{4}, 0, 8)}, make([]byte, 8)},
		{"negative dim", map[string]any{"a": entry("F32", []int{-1}, 0, 4)}, make([]byte, 4)},
		{"missing dtype", map[string]any{"a": map[string]any{"shape": []int{1}, "data_offsets": []int64{0, 4}}}, make([]byte, 4)},
		{"single offset", map[string]any{"a": map[string]any{"dtype": "F32", "shape": []int{1}, "data_offsets": []int64{0}}}, make([]byte, 4)},
		{"non-string metadata", map[string]any{"__metadata__": map[string]any{"n": 1}}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "bad.safetensors")
			writeRaw(t, path, tc.header, tc.data)
			_, err := Open(path)
			if !errors.Is(err, ErrInvalidHeader) {
				t.Fatalf("expected ErrInvalidHeader, got %v", err)
			}
		})
	}
}

func TestOpenTruncatedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "truncated.safetensors")
	if err := os.WriteFile(path, []byte{0, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for truncated file")
	}
}

func TestOpenInvalidJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "invalid.safetensors")

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], 12)
	if err := os.WriteFile(path, append(lenBuf[:], []byte("not valid js")...), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestMetadataKept(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "metadata.safetensors")
	writeRaw(t, path, map[string]any{
		"__metadata__": map[string]string{"format": "pt"},
		"tensor1":      entry("F32", []int{4}, 0, 16),
	}, make([]byte, 16))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if len(f.Tensors) != 1 {
		t.Fatalf("expected 1 tensor (metadata should be excluded), got %d", len(f.Tensors))
	}
	if f.Metadata["format"] != "pt" {
		t.Fatalf("expected metadata format=pt, got %v", f.Metadata)
	}
}

func TestScalarAndEmptyTensors(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "scalar.safetensors")
	writeRaw(t, path, map[string]any{
		"scale": entry("F32", []int{}, 0, 4),
		"empty": entry("F16", []int{0, 8}, 4, 4),
	}, f32Bytes(0.5))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	scale, err := f.Tensor("scale")
	if err != nil {
		t.Fatalf("Tensor: %v", err)
	}
	v, err := scale.ScalarF32()
	if err != nil {
		t.Fatalf("ScalarF32: %v", err)
	}
	if v != 0.5 {
		t.Fatalf("expected 0.5, got %v", v)
	}

	empty, err := f.Tensor("empty")
	if err != nil {
		t.Fatalf("Tensor: %v", err)
	}
	if empty.NumElements() != 0 || empty.NBytes() != 0 {
		t.Fatalf("expected empty tensor, got %d elements / %d bytes", empty.NumElements(), empty.NBytes())
	}
}

func TestTensorNotFound(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.safetensors")
	writeRaw(t, path, map[string]any{"a": entry("F32", []int{1}, 0, 4)}, make([]byte, 4))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if _, ok := f.Info("nonexistent"); ok {
		t.Fatal("expected tensor not found")
	}
	if _, _, err := f.ReadTensor("nonexistent"); err == nil {
		t.Fatal("expected error for missing tensor")
	}
}

func TestReadAfterClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "closed.safetensors")
	writeRaw(t, path, map[string]any{"a": entry("F32", []int{1}, 0, 4)}, make([]byte, 4))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := f.ReadTensor("a"); !errors.Is(err, ErrFileClosed) {
		t.Fatalf("expected ErrFileClosed, got %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestReadTensorF32(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "f32.safetensors")
	values := []float32{1.0, 2.0, 3.0, 4.0}
	writeRaw(t, path, map[string]any{"test": entry("F32", []int{4}, 0, 16)}, f32Bytes(values...))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	result, info, err := f.ReadTensorF32("test")
	if err != nil {
		t.Fatalf("ReadTensorF32: %v", err)
	}
	if info.DType != F32 {
		t.Fatalf("expected F32, got %q", info.DType)
	}
	for i, v := range values {
		if result[i] != v {
			t.Fatalf("element %d: expected %f, got %f", i, v, result[i])
		}
	}
}

func TestReadTensorHalfPrecision(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "half.safetensors")

	data := make([]byte, 8)
	binary.LittleEndian.PutUint16(data[0:], 0x3F80) // bf16 1.0
	binary.LittleEndian.PutUint16(data[2:], 0x4000) // bf16 2.0
	binary.LittleEndian.PutUint16(data[4:], 0x3C00) // f16 1.0
	binary.LittleEndian.PutUint16(data[6:], 0xBC00) // f16 -1.0
	writeRaw(t, path, map[string]any{
		"bf": entry("BF16", []int{2}, 0, 4),
		"hf": entry("F16", []int{2}, 4, 8),
	}, data)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	bf, _, err := f.ReadTensorF32("bf")
	if err != nil {
		t.Fatalf("ReadTensorF32(bf): %v", err)
	}
	if bf[0] != 1.0 || bf[1] != 2.0 {
		t.Fatalf("unexpected bf16 values: %v", bf)
	}
	hf, _, err := f.ReadTensorF32("hf")
	if err != nil {
		t.Fatalf("ReadTensorF32(hf): %v", err)
	}
	if hf[0] != 1.0 || hf[1] != -1.0 {
		t.Fatalf("unexpected f16 values: %v", hf)
	}
}

func TestReadTensorUnsupportedDType(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "unsupported.safetensors")
	writeRaw(t, path, map[string]any{"test": entry("I32", []int{2}, 0, 8)}, make([]byte, 8))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if _, _, err := f.ReadTensorF32("test"); err == nil {
		t.Fatal("expected error for unsupported dtype")
	}
}

func TestLoadAll(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "multi.safetensors")
	writeRaw(t, path, map[string]any{
		"weight": entry("F32", []int{2, 2}, 0, 16),
		"bias":   entry("F32", []int{2}, 16, 24),
	}, f32Bytes(1, 2, 3, 4, 5, 6))

	tensors, err := LoadAll(path)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(tensors) != 2 {
		t.Fatalf("expected 2 tensors, got %d", len(tensors))
	}
	bias, err := tensors["bias"].Float32s()
	if err != nil {
		t.Fatalf("Float32s: %v", err)
	}
	if bias[0] != 5 || bias[1] != 6 {
		t.Fatalf("unexpected bias values: %v", bias)
	}
}

func TestNumElements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		shape    []int
		expected int
		wantErr  bool
	}{
		{[]int{2, 3}, 6, false},
		{[]int{1}, 1, false},
		{[]int{4, 5, 6}, 120, false},
		{[]int{}, 1, false},
		{[]int{0}, 0, false},
		{[]int{3, 0}, 0, false},
		{[]int{-1}, 0, true},
		{[]int{2, -1}, 0, true},
	}

	for _, tc := range tests {
		n, err := numElements(tc.shape)
		if tc.wantErr {
			if err == nil {
				t.Errorf("numElements(%v): expected error", tc.shape)
			}
			continue
		}
		if err != nil {
			t.Errorf("numElements(%v): unexpected error: %v", tc.shape, err)
			continue
		}
		if n != tc.expected {
			t.Errorf("numElements(%v): expected %d, got %d", tc.shape, tc.expected, n)
		}
	}
}

func TestDTypeSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dtype DType
		size  int
		float bool
	}{
		{F64, 8, true},
		{F32, 4, true},
		{F16, 2, true},
		{BF16, 2, true},
		{I8, 1, false},
		{U8, 1, false},
		{BOOL, 1, false},
		{I64, 8, false},
		{"F8_E4M3", 0, false},
	}
	for _, tc := range tests {
		if got := tc.dtype.Size(); got != tc.size {
			t.Errorf("%s.Size(): expected %d, got %d", tc.dtype, tc.size, got)
		}
		if got := tc.dtype.IsFloat(); got != tc.float {
			t.Errorf("%s.IsFloat(): expected %v, got %v", tc.dtype, tc.float, got)
		}
	}
}
