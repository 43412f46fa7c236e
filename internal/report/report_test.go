package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestPrinterLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := New(&buf)
	p.Title("Weights")
	p.Item("model.norm.weight")
	p.Row("tensors", "3")
	p.Row("skipped", "")
	p.Blank()

	want := "Weights\n" + strings.Repeat("=", 50) + "\n" +
		"  model.norm.weight\n" +
		"tensors:                 3\n" +
		"\n"
	if buf.String() != want {
		t.Fatalf("unexpected output:\n%q\nwant:\n%q", buf.String(), want)
	}
	if p.Err() != nil {
		t.Fatalf("unexpected error: %v", p.Err())
	}
}

type failingWriter struct{ calls int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestPrinterStickyError(t *testing.T) {
	t.Parallel()
	w := &failingWriter{}
	p := New(w)
	p.Line("one")
	p.Line("two")
	if p.Err() == nil {
		t.Fatal("expected write error")
	}
	if w.calls != 1 {
		t.Fatalf("expected writes to stop after the first failure, got %d calls", w.calls)
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KiB"},
		{3 * 1024 * 1024 / 2, "1.50 MiB"},
		{5 << 30, "5.00 GiB"},
	}
	for _, tc := range tests {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Errorf("FormatBytes(%d): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestFormatMBAndPercent(t *testing.T) {
	t.Parallel()
	if got := FormatMB(5 * 1024 * 1024 / 2); got != "2.5 MB" {
		t.Fatalf("FormatMB: got %q", got)
	}
	if got := Percent(1, 4); got != 25 {
		t.Fatalf("Percent(1,4): got %v", got)
	}
	if got := Percent(1, 0); got != 0 {
		t.Fatalf("Percent(1,0): got %v", got)
	}
}
