package multibar

import (
	"bytes"
	"errors"
	"io"
)

var errReleased = errors.New("multibar: guard released")

// Guard gives a foreign writer exclusive use of the output. While a Guard is
// held no redraw can run, and the live block has been erased so the foreign
// text lands on a clean line. Release repaints the block below it.
//
// Trackers and the Coordinator stay usable while a Guard is held, from any
// goroutine: redraws they ask for are deferred to Release. Guards do not
// nest, so the holder must not Acquire again or write through Writer.
type Guard struct {
	c        *Coordinator
	err      error
	released bool
	// open is true when the last byte written was not a newline.
	open bool
}

// Acquire waits for any other Guard to be released, then erases the live
// block. The caller must call Release.
func (c *Coordinator) Acquire() *Guard {
	c.outMu.Lock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked()
	c.guarded.Store(true)
	g := &Guard{c: c}
	if c.ansi.Load() && !c.hidden && c.phase != PhaseClosed && c.failed.Load() == nil && c.lastLines > 0 {
		var buf bytes.Buffer
		c.eraseTo(&buf)
		g.err = c.write(buf.Bytes())
	}
	return g
}

// Write writes p to the output. Errors are the caller's to handle; they do
// not affect rendering.
func (g *Guard) Write(p []byte) (int, error) {
	if g.released {
		return 0, errReleased
	}
	n, err := g.c.out.Write(p)
	if n > 0 {
		g.open = p[n-1] != '\n'
	}
	return n, err
}

// Release ends an unterminated foreign line, repaints the live block
// bypassing the throttle, and gives the output back to the Coordinator. A
// Close made under the Guard completes here. Calling Release more than once
// is a no-op.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	c := g.c

	c.mu.Lock()
	c.guarded.Store(false)
	reason := max(drawRepaint, c.pending)
	c.pending = drawUpdate
	err := g.err
	if err == nil && g.open && c.failed.Load() == nil && !c.hidden {
		err = c.write([]byte{'\n'})
	}
	if err == nil {
		err = c.drawLocked(reason)
	}
	if c.phase == PhaseShuttingDown {
		c.phase = PhaseClosed
	}
	c.mu.Unlock()
	c.outMu.Unlock()
	c.report(err)
}

// Suspend runs fn with exclusive access to the output: the live block is
// erased before and repainted right after. In non-terminal mode fn simply
// writes. The error is fn's.
func (c *Coordinator) Suspend(fn func(w io.Writer) error) error {
	g := c.Acquire()
	defer g.Release()
	return fn(g)
}

// GuardedWriter is an io.Writer that performs every Write through Suspend.
// Hand it to a logging library so log lines and progress never mix.
type GuardedWriter struct {
	c *Coordinator
}

// Writer returns a GuardedWriter for this Coordinator.
func (c *Coordinator) Writer() *GuardedWriter {
	return &GuardedWriter{c: c}
}

// Write implements io.Writer.
func (w *GuardedWriter) Write(p []byte) (n int, err error) {
	err = w.c.Suspend(func(out io.Writer) error {
		var werr error
		n, werr = out.Write(p)
		return werr
	})
	return n, err
}

// Sync implements zapcore.WriteSyncer. Writes are not buffered, so there is
// nothing to flush.
func (w *GuardedWriter) Sync() error { return nil }
