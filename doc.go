// Package multibar renders live progress for many concurrent units of work
// onto a single output stream.
//
// A Coordinator owns the stream. Trackers obtained from it report progress
// from any goroutine; the Coordinator decides when and how to draw:
//
//	c := multibar.New(os.Stderr)
//	defer c.Close()
//
//	bar, _ := c.NewBar(100, multibar.WithMessage("Processing"))
//	for i := 0; i < 100; i++ {
//		_ = bar.Advance(1)
//	}
//	_ = bar.Finish()
//
// # Output modes
//
// On a terminal the live trackers form a block that is repainted in place,
// at most once per interval (100ms by default) for ordinary updates. Finishing
// a tracker repaints at once; its final line is printed above the block and
// becomes part of the scrollback.
//
// On a file or pipe nothing is ever overwritten. A line is appended when a
// tracker finishes and, at most once per heartbeat (5s by default), for the
// trackers that changed. No escape sequences are written.
//
// # Logging
//
// Other output to the same stream must go through the Coordinator, see
// Suspend, Acquire and Writer. Package logsink wires a zap logger this way.
// Trackers may be finished or created while a Guard is held; what they
// display appears when it is released.
//
// # Build tags
//
// multibar_nowidth disables the terminal width query (lines are bounded to
// 80 columns) and multibar_nounicode makes width calculation count code
// points instead of display cells.
package multibar
