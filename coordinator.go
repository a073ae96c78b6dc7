package multibar

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sigman78/multibar/internal/termcap"
)

// Capability describes the probed output stream.
type Capability = termcap.Capability

// Prober inspects an output stream, see WithProber.
type Prober = termcap.Prober

// ProbeError is returned by a Prober that could only partly inspect the
// output. The Coordinator logs it at debug level and uses the Capability it
// came with.
type ProbeError = termcap.ProbeError

// FixedProber returns a Prober that always reports c. It is useful for forcing
// a terminal layout onto a buffer in tests.
func FixedProber(c Capability) Prober { return termcap.Fixed(c) }

const (
	cursorPrevLine = "\x1b[1F"
	clearLine      = "\x1b[2K"
)

// Phase is the lifecycle stage of a Coordinator.
type Phase int32

const (
	PhaseUninitialized Phase = iota
	PhaseActive
	PhaseShuttingDown
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseActive:
		return "active"
	case PhaseShuttingDown:
		return "shutting down"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

type drawReason int

const (
	// drawUpdate is a throttled request from a tracker update.
	drawUpdate drawReason = iota
	// drawRepaint redraws the terminal block now; nothing is printed in
	// non-terminal mode.
	drawRepaint
	// drawFinish flushes finished lines now in both modes.
	drawFinish
	// drawFlush redraws now and, in non-terminal mode, also prints every
	// changed live line.
	drawFlush
)

type entry struct {
	ref weak.Pointer[state]
}

// Coordinator multiplexes any number of trackers onto one output stream.
//
// On a terminal it repaints a block of lines in place, at most once per
// interval for ordinary updates; finished lines are printed above the block
// and scroll off. On anything else it only appends: a line when a tracker
// finishes and, at most once per heartbeat, the lines that changed.
//
// A write error switches the Coordinator to no-op rendering for good; the
// error is available from Err and trackers keep working.
type Coordinator struct {
	cfg    config
	out    io.Writer
	hidden bool

	// outMu is held by a Guard from Acquire to Release.
	outMu sync.Mutex

	// mu serializes registry changes and redraws. It is never held while
	// foreign code runs.
	mu        sync.Mutex
	phase     Phase
	caps      Capability
	entries   []entry
	lastLines int
	heartbeat *rate.Limiter
	// pending is the strongest redraw asked for while guarded.
	pending drawReason

	ansi     atomic.Bool
	guarded  atomic.Bool
	dirty    atomic.Bool
	lastDraw atomic.Int64
	tickerOn atomic.Bool
	failed   atomic.Pointer[WriteError]
	probeErr atomic.Pointer[error]
	logger   atomic.Pointer[zap.Logger]

	tickerMu sync.Mutex
	ticker   *ticker
}

// New returns a Coordinator rendering to w. A nil w means os.Stdout.
func New(w io.Writer, opts ...Option) *Coordinator {
	if w == nil {
		w = os.Stdout
	}
	return NewWithTarget(Stream(w), opts...)
}

// NewWithTarget returns a Coordinator rendering to target. The output
// capability is probed on first use.
func NewWithTarget(target DrawTarget, opts ...Option) *Coordinator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Coordinator{
		cfg:    cfg,
		out:    target.w,
		hidden: target.IsHidden(),
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if cfg.heartbeat > 0 {
		c.heartbeat = rate.NewLimiter(rate.Every(cfg.heartbeat), 1)
	}
	c.logger.Store(cfg.logger)
	return c
}

// SetLogger replaces the diagnostics logger. It exists so a logger that
// writes through this Coordinator (see Writer) can be installed after
// construction.
func (c *Coordinator) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	c.logger.Store(l)
}

// NewTracker registers a tracker. Lines are displayed in registration order.
// It fails only with ErrClosed.
func (c *Coordinator) NewTracker(opts ...TrackerOption) (*Tracker, error) {
	var tc trackerConfig
	for _, opt := range opts {
		opt(&tc)
	}
	s := newState(tc, c.cfg.now())

	c.mu.Lock()
	if c.phase >= PhaseShuttingDown {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.initLocked()
	c.entries = append(c.entries, entry{ref: weak.Make(s)})
	c.dirty.Store(true)
	var err error
	if s.visible {
		err = c.drawLocked(drawRepaint)
	}
	c.mu.Unlock()
	c.report(err)

	return &Tracker{c: c, st: s}, nil
}

// NewBar registers a tracker with a known length.
func (c *Coordinator) NewBar(length uint64, opts ...TrackerOption) (*Tracker, error) {
	return c.NewTracker(append([]TrackerOption{WithLength(length)}, opts...)...)
}

// NewSpinner registers a tracker of unknown length.
func (c *Coordinator) NewSpinner(opts ...TrackerOption) (*Tracker, error) {
	return c.NewTracker(opts...)
}

// Draw renders now. An unforced draw is still subject to the interval (on a
// terminal) or the heartbeat (otherwise). A forced draw always repaints and,
// in non-terminal mode, prints every line that changed since it was last
// printed.
func (c *Coordinator) Draw(force bool) {
	reason := drawUpdate
	if force {
		reason = drawFlush
	}
	c.mu.Lock()
	c.initLocked()
	err := c.drawLocked(reason)
	c.mu.Unlock()
	c.report(err)
}

// Close performs a final forced draw and rejects further registrations.
// Existing trackers keep accepting updates, which are no longer rendered.
// Close is idempotent and returns the write failure, if any. Called while a
// Guard is held, the final draw happens in Release.
func (c *Coordinator) Close() error {
	c.StopTicker()

	c.mu.Lock()
	if c.phase >= PhaseShuttingDown {
		c.mu.Unlock()
		return c.Err()
	}
	c.initLocked()
	c.phase = PhaseShuttingDown
	err := c.drawLocked(drawFlush)
	if !c.guarded.Load() {
		c.phase = PhaseClosed
	}
	c.mu.Unlock()
	c.report(err)

	return c.Err()
}

// Err returns the write failure that disabled rendering, or nil.
func (c *Coordinator) Err() error {
	if we := c.failed.Load(); we != nil {
		return we
	}
	return nil
}

// Degraded reports whether rendering has been disabled by a write failure.
func (c *Coordinator) Degraded() bool {
	return c.failed.Load() != nil
}

// Phase returns the lifecycle stage.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Len returns the number of registered trackers, finished ones included until
// their final line has been printed.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.ref.Value() != nil {
			n++
		}
	}
	return n
}

// Capability returns the probed capability of the output.
func (c *Coordinator) Capability() Capability {
	c.mu.Lock()
	c.initLocked()
	caps := c.caps
	c.mu.Unlock()
	c.report(nil)
	return caps
}

// RefreshCapability probes the output again, for example after a terminal
// resize, and repaints.
func (c *Coordinator) RefreshCapability() Capability {
	c.mu.Lock()
	if c.phase == PhaseUninitialized {
		c.initLocked()
	} else {
		c.probeLocked()
	}
	caps := c.caps
	err := c.drawLocked(drawRepaint)
	c.mu.Unlock()
	c.report(err)
	return caps
}

// initLocked probes the output on first use.
func (c *Coordinator) initLocked() {
	if c.phase != PhaseUninitialized {
		return
	}
	c.probeLocked()
	if c.heartbeat != nil {
		// The first heartbeat comes one full period after start.
		c.heartbeat.AllowN(c.cfg.now(), 1)
	}
	c.phase = PhaseActive
}

func (c *Coordinator) probeLocked() {
	if c.hidden {
		return
	}
	caps, err := c.cfg.prober.Probe(c.out)
	if err != nil {
		c.probeErr.Store(&err)
	}
	c.caps = caps
	ansi := caps.IsTerminal
	if c.cfg.forceANSI != nil {
		ansi = *c.cfg.forceANSI
	}
	c.ansi.Store(ansi)
}

// report logs what happened under the render lock. It must be called without
// holding mu because the logger may write through this Coordinator. While a
// Guard is held the probe failure waits, since the caller may be the holder.
func (c *Coordinator) report(drawErr error) {
	logger := c.logger.Load()
	if !c.guarded.Load() {
		if perr := c.probeErr.Swap(nil); perr != nil {
			logger.Debug("output capability probe degraded", zap.Error(*perr))
		}
	}
	if drawErr != nil {
		logger.Warn("progress output failed, rendering disabled", zap.Error(drawErr))
	}
}

// request is the tracker side of the redraw protocol. Ordinary updates only
// mark the display dirty unless a redraw is due and the render lock is free,
// so Advance never waits on output. Forced redraws wait for mu, which is only
// ever held for one draw.
func (c *Coordinator) request(reason drawReason) {
	c.dirty.Store(true)
	if c.hidden || c.failed.Load() != nil {
		return
	}
	if reason == drawUpdate {
		if c.tickerOn.Load() || !c.due(c.cfg.now()) || !c.mu.TryLock() {
			return
		}
	} else {
		c.mu.Lock()
	}
	err := c.drawLocked(reason)
	c.mu.Unlock()
	c.report(err)
}

// due is the lock-free pre-check of the throttle.
func (c *Coordinator) due(now time.Time) bool {
	if c.ansi.Load() {
		return now.Sub(time.Unix(0, c.lastDraw.Load())) >= c.cfg.interval
	}
	return c.heartbeat != nil && c.heartbeat.TokensAt(now) >= 1
}

func (c *Coordinator) detach(s *state) {
	c.mu.Lock()
	kept := c.entries[:0]
	for _, e := range c.entries {
		if v := e.ref.Value(); v != nil && v != s {
			kept = append(kept, e)
		}
	}
	clear(c.entries[len(kept):])
	c.entries = kept
	c.dirty.Store(true)
	err := c.drawLocked(drawRepaint)
	c.mu.Unlock()
	c.report(err)
}

// drawLocked renders according to the output mode. It returns a non-nil
// error only for the write failure that degrades the Coordinator. While a
// Guard is held nothing is written; a forced reason is kept for Release.
func (c *Coordinator) drawLocked(reason drawReason) error {
	if c.hidden || c.phase == PhaseUninitialized || c.phase == PhaseClosed || c.failed.Load() != nil {
		return nil
	}
	if c.guarded.Load() {
		c.pending = max(c.pending, reason)
		return nil
	}
	now := c.cfg.now()
	if !c.ansi.Load() {
		return c.drawPlain(now, reason)
	}
	if reason == drawUpdate {
		if now.Sub(time.Unix(0, c.lastDraw.Load())) < c.cfg.interval || !c.dirty.Load() {
			return nil
		}
	}
	return c.drawTerminal(now)
}

// drawTerminal erases the previous block, prints newly finished lines (which
// become permanent), then the live block, all in a single write.
func (c *Coordinator) drawTerminal(now time.Time) error {
	c.dirty.Store(false)
	width := c.caps.Columns(c.cfg.defaultWidth)

	var buf, block bytes.Buffer
	c.eraseTo(&buf)
	lines := 0

	kept := c.entries[:0]
	for _, e := range c.entries {
		s := e.ref.Value()
		if s == nil {
			continue
		}
		s.mu.Lock()
		switch {
		case s.detached:
		case s.finished:
			if s.visible {
				c.writeBounded(&buf, s.render(now), width)
			}
		default:
			kept = append(kept, e)
			if s.visible {
				lines += c.writeBounded(&block, s.render(now), width)
				if !s.hasLength {
					s.tick++
				}
			}
			s.changed = false
		}
		s.mu.Unlock()
	}
	clear(c.entries[len(kept):])
	c.entries = kept
	buf.Write(block.Bytes())

	c.lastDraw.Store(now.UnixNano())
	c.lastLines = lines
	return c.write(buf.Bytes())
}

// drawPlain appends lines without any cursor movement.
func (c *Coordinator) drawPlain(now time.Time, reason drawReason) error {
	c.dirty.Store(false)
	var buf bytes.Buffer
	var changed []*state

	kept := c.entries[:0]
	for _, e := range c.entries {
		s := e.ref.Value()
		if s == nil {
			continue
		}
		s.mu.Lock()
		switch {
		case s.detached:
		case s.finished:
			if s.visible {
				writePlain(&buf, s.render(now))
			}
		default:
			kept = append(kept, e)
			if s.visible && s.changed {
				changed = append(changed, s)
			}
		}
		s.mu.Unlock()
	}
	clear(c.entries[len(kept):])
	c.entries = kept

	emit := reason == drawFlush ||
		(reason == drawUpdate && len(changed) > 0 && c.heartbeat != nil && c.heartbeat.AllowN(now, 1))
	if emit {
		for _, s := range changed {
			s.mu.Lock()
			writePlain(&buf, s.render(now))
			s.changed = false
			s.mu.Unlock()
		}
		c.lastDraw.Store(now.UnixNano())
	}
	return c.write(buf.Bytes())
}

// eraseTo appends the sequence that clears the block drawn last time.
func (c *Coordinator) eraseTo(buf *bytes.Buffer) {
	for range c.lastLines {
		buf.WriteString(cursorPrevLine)
		buf.WriteString(clearLine)
	}
	c.lastLines = 0
}

// writeBounded writes every line of text cut to width and returns the number
// of lines written. Control characters are dealt with first so that the
// measured width is the width on screen.
func (c *Coordinator) writeBounded(buf *bytes.Buffer, text string, width int) int {
	n := 0
	for line := range strings.SplitSeq(text, "\n") {
		buf.WriteString(c.cfg.width.Truncate(c.cfg.width.Sanitize(line), width))
		buf.WriteByte('\n')
		n++
	}
	return n
}

func writePlain(buf *bytes.Buffer, text string) {
	buf.WriteString(text)
	buf.WriteByte('\n')
}

// write emits p and degrades the Coordinator on failure. Only the call that
// first records the failure returns it.
func (c *Coordinator) write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := c.out.Write(p); err != nil {
		we := &WriteError{Err: err}
		if c.failed.CompareAndSwap(nil, we) {
			return we
		}
	}
	return nil
}
