package quantize

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jordanlister/KickbackApp/internal/logger"
	"github.com/jordanlister/KickbackApp/internal/report"
	"github.com/jordanlister/KickbackApp/internal/safetensors"
)

const defaultSampleLimit = 5

type Options struct {
	Shards []string
	Output string

	// Verify re-reads the output after saving.
	Verify bool

	// Progress receives operator-facing text. Nil discards it.
	Progress io.Writer

	// SampleLimit is how many quantized tensors are listed individually.
	// Zero uses the default of 5; negative disables the listing.
	SampleLimit int
}

// Stats summarises a run. OutputBytes is the in-memory size of the output
// mapping; FileBytes is the size of the file actually written.
type Stats struct {
	Tensors     int
	Quantized   int
	Passthrough int
	Entries     int

	InputBytes  int64
	OutputBytes int64
	FileBytes   int64
}

// OutputPercent is OutputBytes as a percentage of InputBytes.
func (s Stats) OutputPercent() float64 { return report.Percent(s.OutputBytes, s.InputBytes) }

// Savings is the number of bytes saved on disk relative to the input.
func (s Stats) Savings() int64 { return s.InputBytes - s.FileBytes }

func (s Stats) SavingsPercent() float64 { return report.Percent(s.Savings(), s.InputBytes) }

// Run executes validating → loading → quantizing → saving. Any failure aborts
// the run and is returned as a *StageError.
func Run(ctx context.Context, opts Options) (*Stats, error) {
	log := logger.FromContext(ctx).With("component", "quantize")
	w := opts.Progress
	if w == nil {
		w = io.Discard
	}
	p := report.New(w)
	stats := &Stats{}

	stage := StageNotStarted
	enter := func(s Stage) {
		log.Debug("stage", "from", stage.String(), "to", s.String())
		stage = s
	}
	fail := func(err error) (*Stats, error) {
		log.Error("quantization failed", "stage", stage.String(), "error", err)
		failed := stage
		enter(StageFailed)
		return nil, &StageError{Stage: failed, Err: err}
	}

	enter(StageValidating)
	if err := CheckShards(opts.Shards); err != nil {
		return fail(err)
	}
	if opts.Output == "" {
		return fail(fmt.Errorf("output path required"))
	}

	enter(StageLoading)
	m, err := LoadShards(opts.Shards, func(path string) {
		p.Line("Loading %s...", filepath.Base(path))
		log.Info("loading shard", "path", path)
	})
	if err != nil {
		return fail(err)
	}
	stats.Tensors = len(m.Tensors)
	stats.InputBytes = m.NBytes()
	p.Line("Loaded %d tensors (%s)", stats.Tensors, report.FormatMB(stats.InputBytes))
	p.Line("Data types: %s", formatDTypeCounts(m.DTypeCounts()))
	p.Line("Tensor dimensions: %s", formatRankCounts(m.RankCounts()))

	enter(StageQuantizing)
	p.Line("Quantizing weights to 8-bit...")
	out, err := Build(ctx, m)
	if err != nil {
		return fail(err)
	}
	stats.Quantized = len(out.Quantized)
	stats.Passthrough = out.Passthrough
	stats.Entries = len(out.Tensors)
	stats.OutputBytes = out.NBytes()

	limit := opts.SampleLimit
	if limit == 0 {
		limit = defaultSampleLimit
	}
	for i, e := range out.Quantized {
		if limit < 0 || i >= limit {
			break
		}
		p.Item(fmt.Sprintf("%s: %v (%s -> I8, %dKB -> %dKB)", e.Name, e.Shape, e.From, e.OriginalBytes/1024, e.QuantizedBytes/1024))
	}
	p.Line("Quantized %d of %d tensors (%d passthrough, %d output entries)",
		stats.Quantized, stats.Tensors, stats.Passthrough, stats.Entries)
	p.Line("Size reduction: %s -> %s (%.1f%%)",
		report.FormatMB(stats.InputBytes), report.FormatMB(stats.OutputBytes), stats.OutputPercent())

	enter(StageSaving)
	p.Line("Saving quantized model to %s...", opts.Output)
	size, err := Save(opts.Output, out, opts.Verify)
	if err != nil {
		p.Line("Error saving quantized model: %v", err)
		return fail(err)
	}
	stats.FileBytes = size
	if opts.Verify {
		log.Info("output verified", "path", opts.Output, "quantized", stats.Quantized)
	}
	p.Line("Quantized model saved successfully!")
	p.Line("File size: %s", report.FormatMB(stats.FileBytes))
	p.Line("Memory savings: %s (%.1f%%)", report.FormatMB(stats.Savings()), stats.SavingsPercent())

	enter(StageDone)
	log.Info("quantization complete",
		"tensors", stats.Tensors,
		"quantized", stats.Quantized,
		"input_bytes", stats.InputBytes,
		"file_bytes", stats.FileBytes,
	)
	if err := p.Err(); err != nil {
		log.Warn("progress output failed", "error", err)
	}
	return stats, nil
}

func formatDTypeCounts(counts map[safetensors.DType]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[safetensors.DType(k)])
	}
	return strings.Join(parts, " ")
}

func formatRankCounts(counts map[int]int) string {
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%dD=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}
