package multibar

import (
	"math"
	"sync"
	"time"
)

var (
	defaultBar     = ParseTemplate(DefaultBarTemplate)
	defaultSpinner = ParseTemplate(DefaultSpinnerTemplate)
)

// state is the mutable record behind a Tracker. Every field is guarded by mu.
// The Coordinator takes mu only while holding its own render lock.
type state struct {
	mu sync.Mutex

	pos       uint64
	length    uint64
	hasLength bool
	message   string
	format    Formatter
	startedAt time.Time
	tick      uint64

	visible  bool
	finished bool
	detached bool
	// changed is set by every mutation and cleared when the line is printed in
	// non-terminal mode.
	changed bool
}

func newState(tc trackerConfig, now time.Time) *state {
	return &state{
		length:    tc.length,
		hasLength: tc.hasLength,
		message:   tc.message,
		format:    tc.format,
		startedAt: now,
		visible:   !tc.hidden,
		changed:   true,
	}
}

// setPos stores n, clamped to a known length.
func (s *state) setPos(n uint64) {
	if s.hasLength && n > s.length {
		n = s.length
	}
	s.pos = n
}

// add advances the position, saturating instead of wrapping.
func (s *state) add(n uint64) {
	if n > math.MaxUint64-s.pos {
		s.setPos(math.MaxUint64)
		return
	}
	s.setPos(s.pos + n)
}

func (s *state) formatter() Formatter {
	switch {
	case s.format != nil:
		return s.format
	case s.hasLength:
		return defaultBar
	default:
		return defaultSpinner
	}
}

func (s *state) snapshot(now time.Time) Snapshot {
	elapsed := now.Sub(s.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return Snapshot{
		Position:  s.pos,
		Length:    s.length,
		HasLength: s.hasLength,
		Message:   s.message,
		Elapsed:   elapsed,
		Tick:      s.tick,
		Finished:  s.finished,
	}
}

func (s *state) render(now time.Time) string {
	return s.formatter().Format(s.snapshot(now))
}
