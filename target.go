package multibar

import (
	"io"
	"os"
)

type targetKind int

const (
	targetStream targetKind = iota
	targetHidden
)

// DrawTarget selects where a Coordinator renders.
type DrawTarget struct {
	kind targetKind
	w    io.Writer
}

// Stdout renders to the process's standard output.
func Stdout() DrawTarget { return DrawTarget{w: os.Stdout} }

// Stderr renders to the process's standard error.
func Stderr() DrawTarget { return DrawTarget{w: os.Stderr} }

// Stream renders to w. Writers that expose Fd() uintptr are probed for a
// terminal; all others are treated as plain files.
func Stream(w io.Writer) DrawTarget { return DrawTarget{w: w} }

// Hidden discards all output. Trackers still work, nothing is rendered.
func Hidden() DrawTarget { return DrawTarget{kind: targetHidden, w: io.Discard} }

// IsHidden reports whether the target discards output.
func (t DrawTarget) IsHidden() bool { return t.kind == targetHidden }
