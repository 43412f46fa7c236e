// Package report prints line-oriented operator output for the weight tools.
package report

import (
	"fmt"
	"io"
	"strings"
)

// Printer writes progress and summary lines. Write errors are sticky and
// reported by Err so call sites can print without checking every line.
type Printer struct {
	w   io.Writer
	err error
}

func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Err() error { return p.err }

// Line prints one formatted line.
func (p *Printer) Line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

// Blank prints an empty line.
func (p *Printer) Blank() { p.Line("") }

// Title prints a heading underlined with '='.
func (p *Printer) Title(title string) {
	p.Line("%s", title)
	p.Line("%s", strings.Repeat("=", 50))
}

// Item prints an indented list entry.
func (p *Printer) Item(s string) { p.Line("  %s", s) }

// Row prints an aligned label/value pair; empty values are skipped.
func (p *Printer) Row(label, value string) {
	if value == "" {
		return
	}
	p.Line("%-24s %s", label+":", value)
}

// MB converts a byte count to mebibytes.
func MB(b int64) float64 {
	return float64(b) / (1024 * 1024)
}

// FormatMB renders b as "123.4 MB".
func FormatMB(b int64) string {
	return fmt.Sprintf("%.1f MB", MB(b))
}

// FormatBytes renders b with a binary unit suffix.
func FormatBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// Percent returns part/whole*100, or 0 when whole is 0.
func Percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
