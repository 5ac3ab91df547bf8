package scanner

import (
	"fmt"
	"io"
	"os"

	"github.com/Hara602/usbHeuristic/internal/analysis"
	"github.com/Hara602/usbHeuristic/internal/model"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

var (
	colorRed    = color.New(color.FgRed, color.Bold)
	colorGreen  = color.New(color.FgGreen, color.Bold)
	colorYellow = color.New(color.FgYellow)
	colorCyan   = color.New(color.FgCyan)
)

// ConsoleReporter 把结果以文本形式写到终端
type ConsoleReporter struct {
	w      io.Writer
	policy Policy
}

// NewConsoleReporter w 为 nil 时写 stdout
func NewConsoleReporter(w io.Writer, policy Policy) *ConsoleReporter {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleReporter{w: w, policy: policy}
}

// AllClear 没有可疑文件且分数低于阈值
func (p Policy) AllClear(r *model.SuspicionResult) bool {
	return len(r.SuspiciousFiles) == 0 && r.Score < p.AllClearCeiling
}

func (c *ConsoleReporter) Report(r *model.SuspicionResult) error {
	w := &errWriter{w: c.w}

	colorCyan.Fprintf(w, "\n🔍 Scanned USB at %s\n\n", r.Root)
	fmt.Fprintln(w, "USB Features:")
	fmt.Fprintf(w, "Total files: %d\n", r.Features.Total)
	fmt.Fprintf(w, "Executable files: %d\n", r.Features.Exe)
	fmt.Fprintf(w, "Hidden files: %d\n", r.Features.Hidden)
	if r.Skipped > 0 {
		colorYellow.Fprintf(w, "Unreadable entries skipped: %d\n", r.Skipped)
	}
	fmt.Fprintf(w, "AI USB Suspicion Score: %.2f / 100\n\n", r.Score)

	if c.policy.AllClear(r) {
		colorGreen.Fprintln(w, "All files are OK. USB suspicion score is normal ✅")
		return w.err
	}

	for _, f := range r.Findings {
		colorRed.Fprintf(w, "⚠ Suspicious file detected: %s", f.Path)
		fmt.Fprintf(w, " (%s)\n", describe(f))
	}
	colorYellow.Fprintf(w, "\nUSB AI suspicion score: %.2f / 100\n", r.Score)
	return w.err
}

// describe 原因[, 大小][, 类型]
func describe(f model.Finding) string {
	s := f.Reason
	if f.Reason == analysis.ReasonOversized {
		s += ", " + humanize.IBytes(uint64(f.Size))
	}
	if f.Kind != "" {
		s += ", " + f.Kind
	}
	return s
}

// errWriter 记住第一次写失败，后续写入直接跳过
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}
