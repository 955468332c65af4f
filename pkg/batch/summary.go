package batch

import (
	"fmt"
	"io"
	"time"

	"github.com/muesli/termenv"
)

// Outcome records how one input went
type Outcome struct {
	Input    Input
	Files    []string
	Duration time.Duration
	Err      error
}

// Summary collects the outcomes of a batch run
type Summary struct {
	Outcomes []Outcome
	Duration time.Duration
}

// Failed returns the outcomes of inputs that did not complete
func (s *Summary) Failed() []Outcome {
	var failed []Outcome
	for _, o := range s.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Print writes a colored report of the run. Color is dropped when w is
// not a terminal.
func (s *Summary) Print(w io.Writer) {
	out := termenv.NewOutput(w)
	ok := out.String("OK").Foreground(termenv.ANSIGreen).Bold()
	fail := out.String("FAILED").Foreground(termenv.ANSIRed).Bold()

	fmt.Fprintln(w, out.String("Summary").Bold())
	for _, o := range s.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "  %s %s (%s): %v\n", fail, o.Input.Name, o.Duration.Round(time.Millisecond), o.Err)
			continue
		}
		fmt.Fprintf(w, "  %s %s (%s)\n", ok, o.Input.Name, o.Duration.Round(time.Millisecond))
		for _, f := range o.Files {
			fmt.Fprintf(w, "      %s\n", out.String(f).Faint())
		}
	}
	failed := len(s.Failed())
	fmt.Fprintf(w, "%d inputs, %d succeeded, %d failed in %s\n",
		len(s.Outcomes), len(s.Outcomes)-failed, failed, s.Duration.Round(time.Millisecond))
}
