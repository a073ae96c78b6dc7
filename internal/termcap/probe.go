// Package termcap detects the output capabilities of a stream: whether it is
// an interactive terminal and, if so, how many columns it has.
//
// The terminal check uses golang.org/x/term. The column query is platform
// specific (ioctl TIOCGWINSZ on unix, the console screen buffer on Windows)
// and is compiled out with the multibar_nowidth build tag.
package termcap

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// DefaultWidth is the column budget used when a terminal's width is unknown.
const DefaultWidth = 80

// Capability describes an output stream.
type Capability struct {
	IsTerminal bool
	Width      int  // columns, valid only when HasWidth
	HasWidth   bool // false for non-terminals and failed queries
}

// Columns returns the probed width, or fallback when it is unknown.
func (c Capability) Columns(fallback int) int {
	if c.HasWidth && c.Width > 0 {
		return c.Width
	}
	return fallback
}

// ProbeError reports a failed capability query. The Capability returned with
// it is still usable, only less precise.
type ProbeError struct {
	Op  string
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("termcap: %s: %v", e.Op, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Prober inspects a writer.
type Prober interface {
	Probe(w io.Writer) (Capability, error)
}

// FdWriter is a writer backed by a file descriptor or handle, like *os.File.
type FdWriter interface {
	io.Writer
	Fd() uintptr
}

// System probes the real platform console.
type System struct{}

// Probe implements Prober. Writers without a file descriptor are never
// terminals.
func (System) Probe(w io.Writer) (Capability, error) {
	f, ok := w.(FdWriter)
	if !ok {
		return Capability{}, nil
	}
	fd := f.Fd()
	if !term.IsTerminal(int(fd)) {
		return Capability{}, nil
	}
	c := Capability{IsTerminal: true}
	if !WidthEnabled {
		return c, nil
	}
	width, err := queryWidth(fd)
	if err != nil {
		return c, &ProbeError{Op: "query width", Err: err}
	}
	c.Width, c.HasWidth = width, true
	return c, nil
}

// Fixed always reports the same capability.
type Fixed Capability

// Probe implements Prober.
func (f Fixed) Probe(io.Writer) (Capability, error) {
	return Capability(f), nil
}
