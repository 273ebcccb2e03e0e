// Package printer writes human-facing CLI output with colour.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/mattjoyce/convert/internal/events"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Printer writes to Out and Err. The zero value is not usable; use New or Default.
type Printer struct {
	Out io.Writer
	Err io.Writer
}

func New(out, errOut io.Writer) *Printer {
	return &Printer{Out: out, Err: errOut}
}

func Default() *Printer {
	return New(os.Stdout, os.Stderr)
}

// Success prints a message in green with a checkmark prefix.
func (p *Printer) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprintln(p.Out, msg)
}

func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.Out, format+"\n", a...)
}

// Warning prints to Err in yellow.
func (p *Printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.Err, "⚠  %s\n", fmt.Sprintf(format, a...))
}

// Step prints an emphasized step line.
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.Out, "→ %s\n", fmt.Sprintf(format, a...))
}

// Error prints a title, an explanation and optional suggestions to Err and
// returns a short error for cobra, which is configured not to print it.
func (p *Printer) Error(title, explanation string, suggestions ...string) error {
	red.Fprintf(p.Err, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(p.Err, "\n%s\n", explanation)
	}
	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.Err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.Err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.Err, "  %d. %s\n", i+1, s)
		}
	}
	return fmt.Errorf("%s", title)
}

// Progress prints one progress event as a single line.
func (p *Printer) Progress(ev events.ProgressEvent) {
	c := cyan
	switch ev.Phase {
	case events.PhaseDone:
		c = green
	case events.PhaseFailed, events.PhaseCancelled:
		c = red
	}
	line := fmt.Sprintf("[%3.0f%%] %s", ev.Progress, c.Sprintf("%-10s", ev.Phase))
	if ev.Speed != "" || ev.ETA != "" {
		line += faint.Sprintf(" %s eta %s", ev.Speed, ev.ETA)
	}
	if ev.Message != "" {
		line += "  " + ev.Message
	}
	fmt.Fprintln(p.Out, line)
}
