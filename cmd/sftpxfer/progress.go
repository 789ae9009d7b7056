package main

import (
	"fmt"
	"os"
	"time"

	sftpxfer "github.com/eleztian/go-sftpxfer"
	"github.com/schollz/progressbar/v3"
)

// progressUI renders InProgress results as a terminal progress bar.
type progressUI struct {
	operation string
	name      string
	bar       *progressbar.ProgressBar
}

func newProgressUI(operation, name string) *progressUI {
	return &progressUI{operation: operation, name: name}
}

func (p *progressUI) Update(update sftpxfer.InProgress) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions64(int64(update.Progress.TotalBytes),
			progressbar.OptionSetDescription(fmt.Sprintf("%s %s", p.operation, p.name)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
	}
	done := uint64(update.Progress.PercentComplete / 100 * float64(update.Progress.TotalBytes))
	_ = p.bar.Set64(int64(done))
}

func (p *progressUI) Finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(os.Stderr)
}
