package quantize

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/jordanlister/KickbackApp/internal/safetensors"
)

// CheckShards verifies every shard exists before anything is loaded.
func CheckShards(paths []string) error {
	if len(paths) == 0 {
		return ErrNoShards
	}
	for _, p := range paths {
		st, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return &MissingInputError{Path: p}
		}
		if err != nil {
			return err
		}
		if st.IsDir() {
			return fmt.Errorf("%s is a directory", p)
		}
	}
	return nil
}

// Model is the union of all loaded shards.
type Model struct {
	Tensors map[string]*safetensors.Tensor
	Shards  []string

	source map[string]string
}

func NewModel() *Model {
	return &Model{
		Tensors: make(map[string]*safetensors.Tensor),
		source:  make(map[string]string),
	}
}

// LoadShards loads every shard into one Model. loading, if non-nil, is called
// before each shard is read.
func LoadShards(paths []string, loading func(path string)) (*Model, error) {
	m := NewModel()
	for _, p := range paths {
		if loading != nil {
			loading(p)
		}
		if err := m.AddShard(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddShard loads path into m. Shards must be disjoint; a name seen before is a
// DuplicateTensorError and m is left unchanged.
func (m *Model) AddShard(path string) error {
	tensors, err := safetensors.LoadAll(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return m.add(path, tensors)
}

func (m *Model) add(path string, tensors map[string]*safetensors.Tensor) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if first, ok := m.source[name]; ok {
			return &DuplicateTensorError{Name: name, First: first, Second: path}
		}
	}
	for _, name := range names {
		m.Tensors[name] = tensors[name]
		m.source[name] = path
	}
	m.Shards = append(m.Shards, path)
	return nil
}

func (m *Model) Names() []string {
	out := make([]string, 0, len(m.Tensors))
	for name := range m.Tensors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NBytes is the in-memory size of every tensor.
func (m *Model) NBytes() int64 {
	var n int64
	for _, t := range m.Tensors {
		n += t.NBytes()
	}
	return n
}

func (m *Model) DTypeCounts() map[safetensors.DType]int {
	out := make(map[safetensors.DType]int)
	for _, t := range m.Tensors {
		out[t.DType]++
	}
	return out
}

func (m *Model) RankCounts() map[int]int {
	out := make(map[int]int)
	for _, t := range m.Tensors {
		out[t.Rank()]++
	}
	return out
}
