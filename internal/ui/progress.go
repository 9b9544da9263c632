package ui

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// LoadProgress draws one progress bar per staging table as its files load
type LoadProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func NewLoadProgress(w io.Writer) *LoadProgress {
	return &LoadProgress{w: w}
}

func (p *LoadProgress) Start(table string, files int) {
	p.bar = progressbar.NewOptions(files,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(table),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionEnableColorCodes(supportsColor),
		progressbar.OptionOnCompletion(func() { io.WriteString(p.w, "\n") }),
	)
}

func (p *LoadProgress) Advance(files int) {
	if p.bar != nil {
		_ = p.bar.Add(files)
	}
}

func (p *LoadProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}
