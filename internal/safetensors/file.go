package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"
)

const (
	metadataKey = "__metadata__"

	// Upstream rejects headers above 100 MB; we do the same.
	maxHeaderSize = 100 << 20
)

var (
	ErrInvalidHeader = errors.New("safetensors: invalid header")
	ErrFileClosed    = errors.New("safetensors: file closed")
)

// TensorInfo describes one tensor entry of a safetensors header.
// Start/End are offsets relative to the start of the data section (End is exclusive).
type TensorInfo struct {
	DType DType
	Shape []int
	Start int64
	End   int64
}

func (ti TensorInfo) Size() int64 { return ti.End - ti.Start }

type tensorHeader struct {
	DType       DType   `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// File is an opened safetensors file. The payload is memory-mapped when the
// platform allows it; Close releases the mapping.
type File struct {
	Path     string
	Metadata map[string]string
	Tensors  map[string]TensorInfo

	data      []byte
	dataStart int64
	mmapped   bool
}

// Open maps path read-only and validates its header.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size < 8 {
		return nil, fmt.Errorf("%w: file too small: %s", ErrInvalidHeader, path)
	}
	if size > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("safetensors: file too large: %s", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	mmapped := err == nil
	if !mmapped {
		data, err = readAllAt(f, int(size))
		if err != nil {
			return nil, err
		}
	}

	sf, err := parse(path, data)
	if err != nil {
		if mmapped {
			_ = unix.Munmap(data)
		}
		return nil, err
	}
	sf.mmapped = mmapped
	return sf, nil
}

func parse(path string, data []byte) (*File, error) {
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("%w: header too large (%d bytes): %s", ErrInvalidHeader, headerLen, path)
	}
	if 8+headerLen > uint64(len(data)) {
		return nil, fmt.Errorf("%w: header exceeds file size: %s", ErrInvalidHeader, path)
	}
	dataStart := int64(8 + headerLen)
	dataLen := int64(len(data)) - dataStart

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:dataStart], &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHeader, path, err)
	}

	var meta map[string]string
	if msg, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(msg, &meta); err != nil {
			return nil, fmt.Errorf("%w: %s: metadata: %v", ErrInvalidHeader, path, err)
		}
		delete(raw, metadataKey)
	}

	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", ErrInvalidHeader, name, err)
		}
		info, err := th.validate(name, dataLen)
		if err != nil {
			return nil, err
		}
		tensors[name] = info
	}

	return &File{
		Path:      path,
		Metadata:  meta,
		Tensors:   tensors,
		data:      data,
		dataStart: dataStart,
	}, nil
}

func (th tensorHeader) validate(name string, dataLen int64) (TensorInfo, error) {
	if th.DType == "" {
		return TensorInfo{}, fmt.Errorf("%w: tensor %q: missing dtype", ErrInvalidHeader, name)
	}
	if len(th.DataOffsets) != 2 {
		return TensorInfo{}, fmt.Errorf("%w: tensor %q: invalid data_offsets", ErrInvalidHeader, name)
	}
	start, end := th.DataOffsets[0], th.DataOffsets[1]
	if start < 0 || end < start || end > dataLen {
		return TensorInfo{}, fmt.Errorf("%w: tensor %q: out-of-bounds data range [%d,%d)", ErrInvalidHeader, name, start, end)
	}
	n, err := numElements(th.Shape)
	if err != nil {
		return TensorInfo{}, fmt.Errorf("%w: tensor %q: %v", ErrInvalidHeader, name, err)
	}
	if sz := th.DType.Size(); sz > 0 && int64(n)*int64(sz) != end-start {
		return TensorInfo{}, fmt.Errorf("%w: tensor %q: %s%v needs %d bytes, have %d",
			ErrInvalidHeader, name, th.DType, th.Shape, int64(n)*int64(sz), end-start)
	}
	shape := th.Shape
	if shape == nil {
		shape = []int{}
	}
	return TensorInfo{DType: th.DType, Shape: shape, Start: start, End: end}, nil
}

func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	return err
}

func (f *File) Info(name string) (TensorInfo, bool) {
	ti, ok := f.Tensors[name]
	return ti, ok
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	out := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ReadTensor copies the raw tensor bytes out of the file.
func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	if f.data == nil {
		return nil, TensorInfo{}, ErrFileClosed
	}
	ti, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor not found: %s", name)
	}
	buf := make([]byte, ti.Size())
	copy(buf, f.data[f.dataStart+ti.Start:f.dataStart+ti.End])
	return buf, ti, nil
}

// Tensor reads name into an independent in-memory Tensor.
func (f *File) Tensor(name string) (*Tensor, error) {
	raw, ti, err := f.ReadTensor(name)
	if err != nil {
		return nil, err
	}
	return &Tensor{Name: name, DType: ti.DType, Shape: append([]int{}, ti.Shape...), Data: raw}, nil
}

func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	t, err := f.Tensor(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	out, err := t.Float32s()
	if err != nil {
		return nil, TensorInfo{}, err
	}
	return out, f.Tensors[name], nil
}

// LoadAll reads every tensor of the file at path into memory.
func LoadAll(path string) (map[string]*Tensor, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	out := make(map[string]*Tensor, len(f.Tensors))
	for _, name := range f.Names() {
		t, err := f.Tensor(name)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}
