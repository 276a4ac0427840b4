// Package progress renders a single-line terminal progress bar for
// conversion runs. Output goes to stderr and is suppressed entirely when
// stderr is not a terminal, so piped and scripted runs stay clean.
package progress

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
)

// Bar is a run-wide progress line fed by writer callbacks.
type Bar struct {
	enabled         bool
	total           int
	current         int
	lastRenderWidth int
	label           string
	bar             progress.Model
	out             io.Writer
}

// New creates a bar writing to stderr, active only when stderr is a
// terminal.
func New(total int) *Bar {
	return newBar(total, os.Stderr, isTerminal(os.Stderr))
}

func newBar(total int, out io.Writer, enabled bool) *Bar {
	if total <= 0 {
		total = 1
	}
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = 36

	if cols, err := strconv.Atoi(strings.TrimSpace(os.Getenv("COLUMNS"))); err == nil && cols > 0 {
		width := cols - 40
		if width < 16 {
			width = 16
		}
		if width > 64 {
			width = 64
		}
		bar.Width = width
	}

	return &Bar{
		enabled: enabled,
		total:   total,
		bar:     bar,
		out:     out,
	}
}

// Update redraws the bar. The signature matches the writer's progress
// callback, so a Bar can be handed to it directly.
func (p *Bar) Update(done, total int, label string) {
	if !p.enabled {
		return
	}
	if total > 0 {
		p.total = total
	}
	p.current = done
	if p.current > p.total {
		p.current = p.total
	}
	p.label = label
	p.render()
}

// Finish fills the bar and moves to the next line.
func (p *Bar) Finish(label string) {
	if !p.enabled {
		return
	}
	p.current = p.total
	p.label = label
	p.render()
	fmt.Fprint(p.out, "\n")
	p.lastRenderWidth = 0
}

// Close terminates a partially drawn line, for abandoned runs.
func (p *Bar) Close() {
	if !p.enabled {
		return
	}
	if p.lastRenderWidth > 0 {
		fmt.Fprint(p.out, "\n")
		p.lastRenderWidth = 0
	}
}

func (p *Bar) render() {
	percent := float64(p.current) / float64(p.total)
	if percent < 0 {
		percent = 0
	}
	if percent > 1 {
		percent = 1
	}
	line := fmt.Sprintf("%s %3.0f%% %d/%d %s", p.bar.ViewAs(percent), percent*100, p.current, p.total, strings.TrimSpace(p.label))
	pad := ""
	if p.lastRenderWidth > len(line) {
		pad = strings.Repeat(" ", p.lastRenderWidth-len(line))
	}
	fmt.Fprintf(p.out, "\r%s%s", line, pad)
	p.lastRenderWidth = len(line)
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
