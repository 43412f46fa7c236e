// Package weightindex reads a sharded safetensors weight index and groups its
// parameter names by substring category.
package weightindex

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrIndexNotFound     = errors.New("index file not found")
	ErrModelsDirNotFound = errors.New("models directory not found")
)

// Index is the subset of model.safetensors.index.json we read.
type Index struct {
	Metadata  map[string]any    `json:"metadata,omitempty"`
	WeightMap map[string]string `json:"weight_map"`
}

// ReadIndex parses the index at path. A missing file wraps both
// ErrIndexNotFound and fs.ErrNotExist.
func ReadIndex(path string) (*Index, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s: %w", ErrIndexNotFound, path, err)
	}
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, fmt.Errorf("parse index %s: %w", path, err)
	}
	if idx.WeightMap == nil {
		idx.WeightMap = map[string]string{}
	}
	return &idx, nil
}

// ShardCounts returns how many parameters each shard file holds.
func (idx *Index) ShardCounts() map[string]int {
	out := make(map[string]int)
	for _, shard := range idx.WeightMap {
		out[shard]++
	}
	return out
}

// ListSafetensors returns the sorted *.safetensors file names in dir.
func ListSafetensors(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s: %w", ErrModelsDirNotFound, dir, err)
	}
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".safetensors") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
