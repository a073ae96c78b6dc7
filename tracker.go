package multibar

import "io"

// Tracker reports progress for one unit of work. A *Tracker may be shared
// between goroutines; all of them update the same state.
//
// A nil *Tracker is valid and every method is a no-op, so progress can be
// switched off by simply not creating one.
//
// Mutators never report rendering problems. They return ErrDetached once the
// tracker has been detached and nil otherwise, including after Finish, when
// further mutations are ignored.
type Tracker struct {
	c  *Coordinator
	st *state
}

// update applies fn under the state lock and, when fn reports a change, asks
// the coordinator for a redraw.
func (t *Tracker) update(reason drawReason, fn func(s *state) bool) error {
	if t == nil {
		return nil
	}
	s := t.st
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return ErrDetached
	}
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	changed := fn(s)
	if changed {
		s.changed = true
	}
	s.mu.Unlock()

	if changed {
		t.c.request(reason)
	}
	return nil
}

// Advance moves the position forward by n. Concurrent calls never lose
// updates. The position stops at the length when one is known.
func (t *Tracker) Advance(n uint64) error {
	return t.update(drawUpdate, func(s *state) bool {
		before := s.pos
		s.add(n)
		return s.pos != before || !s.hasLength
	})
}

// SetPosition sets the position to n, clamped to the length. Moving
// backwards is allowed and counts as an explicit reset.
func (t *Tracker) SetPosition(n uint64) error {
	return t.update(drawUpdate, func(s *state) bool {
		before := s.pos
		s.setPos(n)
		return s.pos != before
	})
}

// SetLength sets a known length, turning a spinner into a bar.
func (t *Tracker) SetLength(n uint64) error {
	return t.update(drawUpdate, func(s *state) bool {
		s.length, s.hasLength = n, true
		s.setPos(s.pos)
		return true
	})
}

// SetMessage replaces the message. Concurrent calls are last-writer-wins.
func (t *Tracker) SetMessage(msg string) error {
	return t.update(drawUpdate, func(s *state) bool {
		if s.message == msg {
			return false
		}
		s.message = msg
		return true
	})
}

// SetTemplate replaces the display template, see Template.
func (t *Tracker) SetTemplate(src string) error {
	return t.SetFormatter(ParseTemplate(src))
}

// SetFormatter replaces the formatter. A nil formatter restores the default.
func (t *Tracker) SetFormatter(f Formatter) error {
	return t.update(drawUpdate, func(s *state) bool {
		s.format = f
		return true
	})
}

// SetVisible shows or hides the line. Changing visibility repaints at once.
func (t *Tracker) SetVisible(visible bool) error {
	return t.update(drawRepaint, func(s *state) bool {
		if s.visible == visible {
			return false
		}
		s.visible = visible
		return true
	})
}

// Tick advances the animation frame without changing the position.
func (t *Tracker) Tick() error {
	return t.update(drawUpdate, func(s *state) bool {
		s.tick++
		return true
	})
}

// Reset moves the position back to zero and restarts the elapsed clock.
func (t *Tracker) Reset() error {
	return t.update(drawUpdate, func(s *state) bool {
		s.pos = 0
		s.tick = 0
		s.startedAt = t.c.cfg.now()
		return true
	})
}

// Finish completes the tracker: the position jumps to the length, one final
// line is rendered and the line is never repainted again. Finish is
// idempotent.
func (t *Tracker) Finish() error {
	return t.update(drawFinish, func(s *state) bool {
		s.finished = true
		if s.hasLength {
			s.pos = s.length
		}
		return true
	})
}

// FinishWithMessage sets the message and finishes in one step.
func (t *Tracker) FinishWithMessage(msg string) error {
	return t.update(drawFinish, func(s *state) bool {
		s.message = msg
		s.finished = true
		if s.hasLength {
			s.pos = s.length
		}
		return true
	})
}

// Detach removes the tracker from the display without a final line. It is
// meant for abandoned work; every later mutation returns ErrDetached.
func (t *Tracker) Detach() error {
	if t == nil {
		return nil
	}
	t.st.mu.Lock()
	if t.st.detached {
		t.st.mu.Unlock()
		return ErrDetached
	}
	t.st.detached = true
	t.st.mu.Unlock()

	t.c.detach(t.st)
	return nil
}

// Write advances the tracker by len(p), so a Tracker can sit behind an
// io.MultiWriter or io.TeeReader while data is copied.
func (t *Tracker) Write(p []byte) (int, error) {
	if err := t.Advance(uint64(len(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WrapReader returns a reader that advances the tracker by every byte read
// from r.
func (t *Tracker) WrapReader(r io.Reader) io.Reader {
	if t == nil {
		return r
	}
	return io.TeeReader(r, t)
}

// Position returns the current position.
func (t *Tracker) Position() uint64 {
	if t == nil {
		return 0
	}
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	return t.st.pos
}

// Length returns the length and whether it is known.
func (t *Tracker) Length() (uint64, bool) {
	if t == nil {
		return 0, false
	}
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	return t.st.length, t.st.hasLength
}

// Message returns the current message.
func (t *Tracker) Message() string {
	if t == nil {
		return ""
	}
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	return t.st.message
}

// IsFinished reports whether Finish has been called.
func (t *Tracker) IsFinished() bool {
	if t == nil {
		return false
	}
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	return t.st.finished
}

// IsVisible reports whether the line is shown.
func (t *Tracker) IsVisible() bool {
	if t == nil {
		return false
	}
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	return t.st.visible
}

// Alive reports whether the tracker is still attached to an open
// Coordinator.
func (t *Tracker) Alive() bool {
	if t == nil {
		return false
	}
	t.st.mu.Lock()
	detached := t.st.detached
	t.st.mu.Unlock()
	return !detached && t.c.Phase() < PhaseShuttingDown
}
