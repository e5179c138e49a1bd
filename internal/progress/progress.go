// Package progress reports index rebuild progress on a terminal.
package progress

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Bar draws a progress bar; a nil *Bar is a valid no-op reporter.
type Bar struct {
	w    io.Writer
	desc string
	bar  *progressbar.ProgressBar
}

// New returns a bar writing to w, or nil when disabled.
func New(enabled bool, w io.Writer, desc string) *Bar {
	if !enabled {
		return nil
	}
	return &Bar{w: w, desc: desc}
}

func (p *Bar) Start(total int) {
	if p == nil || total <= 0 {
		return
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(p.desc),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (p *Bar) Add(n int) {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Add(n)
}

func (p *Bar) Finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}

// DefaultEnabled reports whether stderr is a terminal.
func DefaultEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
