package weightindex

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"

	"github.com/jordanlister/KickbackApp/internal/report"
)

// WriteReport prints s as the line-oriented inspection listing.
func WriteReport(w io.Writer, s Summary) error {
	p := report.New(w)
	p.Title("Available weights in the model:")
	for _, c := range s.Categories {
		p.Blank()
		if c.Truncated {
			p.Line("%s weights (%d, first %d):", c.Category.Title, c.Count, len(c.Names))
		} else {
			p.Line("%s weights (%d):", c.Category.Title, c.Count)
		}
		for _, name := range c.Names {
			p.Item(name)
		}
		if c.Truncated {
			p.Line("%d more not shown", c.Count-len(c.Names))
		}
	}

	if len(s.Shards) > 0 {
		p.Blank()
		p.Line("Shards (%d):", len(s.Shards))
		shards := make([]string, 0, len(s.Shards))
		for name := range s.Shards {
			shards = append(shards, name)
		}
		sort.Strings(shards)
		for _, name := range shards {
			p.Item(fmt.Sprintf("%s: %d weights", name, s.Shards[name]))
		}
	}

	p.Blank()
	p.Line("Total weights: %d", s.Total)
	return p.Err()
}

// WriteJSON prints s as indented JSON.
func WriteJSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteFallback prints the diagnostic shown when the index file is absent.
// It never fails on a missing directory; that is reported as text.
func WriteFallback(w io.Writer, indexPath, modelsDir string) error {
	p := report.New(w)
	p.Line("Index file not found at %s", indexPath)
	p.Line("Looking for safetensors files...")
	files, err := ListSafetensors(modelsDir)
	switch {
	case err == nil:
		p.Line("Found safetensors files: %v", files)
	case errors.Is(err, ErrModelsDirNotFound):
		p.Line("Models directory not found at %s", modelsDir)
	default:
		return err
	}
	return p.Err()
}
