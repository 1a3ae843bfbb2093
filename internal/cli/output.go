package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// NewTable returns a rounded go-pretty table that renders to w.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

// Header styles a table header cell.
func Header(s string) string {
	return text.FgHiCyan.Sprint(s)
}

// FormatError formats an error message for CLI output.
func FormatError(err error) string {
	return text.FgRed.Sprintf("Error: %v", err)
}

// FormatSuccess formats a success message for CLI output.
func FormatSuccess(msg string) string {
	return text.FgGreen.Sprint("✓ ") + msg
}

// FormatWarning formats a warning message for CLI output.
func FormatWarning(msg string) string {
	return text.FgYellow.Sprint("⚠ ") + msg
}

// FormatExpiry renders an absolute expiry relative to now, e.g.
// "in 4m30s" or "expired 2h ago".
func FormatExpiry(expiresAt, now time.Time) string {
	if expiresAt.IsZero() {
		return "unknown"
	}
	d := expiresAt.Sub(now).Truncate(time.Second)
	if d > 0 {
		return text.FgGreen.Sprintf("in %s", d)
	}
	return text.FgRed.Sprintf("expired %s ago", -d)
}

// Spinner shows progress while a blocking call runs. It draws nothing when
// quiet is set or the output is not a terminal.
type Spinner struct {
	s *spinner.Spinner
}

// StartSpinner starts a spinner with suffix on w.
func StartSpinner(w io.Writer, suffix string, quiet bool) *Spinner {
	if quiet {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + suffix
	s.Start()
	return &Spinner{s: s}
}

// Stop stops and erases the spinner.
func (s *Spinner) Stop() {
	if s == nil || s.s == nil {
		return
	}
	s.s.Stop()
}

// Fprintf writes to w unless quiet is set.
func Fprintf(w io.Writer, quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}
