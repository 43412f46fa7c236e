package safetensors

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const headerAlign = 8

// Encode writes tensors and metadata as a safetensors stream. Tensors are laid
// out in name order; the header is space-padded to an 8-byte boundary.
func Encode(w io.Writer, tensors []*Tensor, metadata map[string]string) (int64, error) {
	sorted := make([]*Tensor, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	header := make(map[string]any, len(sorted)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var off int64
	for i, t := range sorted {
		if t.Name == "" || t.Name == metadataKey {
			return 0, fmt.Errorf("safetensors: invalid tensor name %q", t.Name)
		}
		if i > 0 && sorted[i-1].Name == t.Name {
			return 0, fmt.Errorf("safetensors: duplicate tensor %q", t.Name)
		}
		n, err := numElements(t.Shape)
		if err != nil {
			return 0, fmt.Errorf("safetensors: tensor %q: %w", t.Name, err)
		}
		if sz := t.DType.Size(); sz == 0 {
			return 0, fmt.Errorf("safetensors: tensor %q: unsupported dtype %q", t.Name, t.DType)
		} else if int64(n)*int64(sz) != t.NBytes() {
			return 0, fmt.Errorf("safetensors: tensor %q: %s%v needs %d bytes, have %d",
				t.Name, t.DType, t.Shape, int64(n)*int64(sz), t.NBytes())
		}
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		header[t.Name] = tensorHeader{
			DType:       t.DType,
			Shape:       shape,
			DataOffsets: []int64{off, off + t.NBytes()},
		}
		off += t.NBytes()
	}

	hb, err := json.Marshal(header)
	if err != nil {
		return 0, fmt.Errorf("safetensors: encode header: %w", err)
	}
	if pad := (headerAlign - len(hb)%headerAlign) % headerAlign; pad > 0 {
		hb = append(hb, bytes.Repeat([]byte{' '}, pad)...)
	}

	var written int64
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hb)))
	for _, p := range [][]byte{lenBuf[:], hb} {
		n, err := w.Write(p)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	for _, t := range sorted {
		n, err := w.Write(t.Data)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("safetensors: write tensor %q: %w", t.Name, err)
		}
	}
	return written, nil
}

// WriteFile encodes tensors into path. The bytes go to a temporary file next to
// path which is renamed over it only after a successful sync, so a failed write
// never leaves a truncated file at path.
func WriteFile(path string, tensors map[string]*Tensor, metadata map[string]string) (int64, error) {
	return WriteFileFunc(path, tensors, metadata, nil)
}

// WriteFileFunc is WriteFile with a check run against the synced temporary
// file before it is renamed. A check error discards the temporary file and
// leaves path untouched.
func WriteFileFunc(path string, tensors map[string]*Tensor, metadata map[string]string, check func(tmp string) error) (int64, error) {
	list := make([]*Tensor, 0, len(tensors))
	for _, t := range tensors {
		list = append(list, t)
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp := filepath.Join(dir, "."+base+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	bw := bufio.NewWriterSize(f, 1<<20)
	n, err := Encode(bw, list, metadata)
	if err != nil {
		cleanup()
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return 0, err
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return 0, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if check != nil {
		if err := check(tmp); err != nil {
			_ = os.Remove(tmp)
			return 0, err
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}
