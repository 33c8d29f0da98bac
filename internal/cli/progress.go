package cli

import (
	"io"
	"time"

	"github.com/briandowns/spinner"
)

// Progress is a spinner that can be disabled for quiet or non-interactive use.
type Progress struct {
	s *spinner.Spinner
}

// StartProgress starts a spinner with message on w. With quiet set nothing
// is drawn.
func StartProgress(w io.Writer, message string, quiet bool) *Progress {
	if quiet {
		return &Progress{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	s.Start()
	return &Progress{s: s}
}

// Stop clears the spinner.
func (p *Progress) Stop() {
	if p.s != nil {
		p.s.Stop()
	}
}
