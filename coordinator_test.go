package multibar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// recorder keeps every Write as a separate payload.
type recorder struct {
	mu     sync.Mutex
	writes []string
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	r.writes = append(r.writes, string(p))
	r.mu.Unlock()
	return len(p), nil
}

func (r *recorder) Writes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func (r *recorder) String() string {
	return strings.Join(r.Writes(), "")
}

type failWriter struct {
	mu    sync.Mutex
	calls int
}

var errBroken = errors.New("broken pipe")

func (f *failWriter) Write([]byte) (int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return 0, errBroken
}

func terminal(width int) Option {
	return WithProber(FixedProber(Capability{IsTerminal: true, Width: width, HasWidth: true}))
}

const simple = "{msg} {pos}/{len}"

func TestLazyPhases(t *testing.T) {
	c := New(&bytes.Buffer{})
	assert.Equal(t, PhaseUninitialized, c.Phase())

	_, err := c.NewBar(10)
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, c.Phase())

	require.NoError(t, c.Close())
	assert.Equal(t, PhaseClosed, c.Phase())
	assert.Equal(t, "closed", c.Phase().String())
}

func TestConcurrentAdvanceNoLostUpdates(t *testing.T) {
	c := New(&recorder{}, terminal(80), WithInterval(0))
	sp, err := c.NewSpinner(WithMessage("work"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_ = sp.Advance(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(8000), sp.Position())
}

func TestAdvanceClampsAtLength(t *testing.T) {
	c := New(&bytes.Buffer{})
	bar, err := c.NewBar(100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = bar.Advance(10)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(100), bar.Position())
	assert.False(t, bar.IsFinished())
}

func TestSetPositionClampsAndResets(t *testing.T) {
	c := New(&bytes.Buffer{})
	bar, err := c.NewBar(100)
	require.NoError(t, err)

	require.NoError(t, bar.SetPosition(500))
	assert.Equal(t, uint64(100), bar.Position())

	require.NoError(t, bar.SetPosition(10))
	assert.Equal(t, uint64(10), bar.Position())

	require.NoError(t, bar.SetLength(5))
	assert.Equal(t, uint64(5), bar.Position())
	n, ok := bar.Length()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), n)
}

func TestFinishIsIdempotent(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(80), WithInterval(0))
	bar, err := c.NewBar(10, WithMessage("job"), WithTemplate(simple))
	require.NoError(t, err)

	require.NoError(t, bar.Advance(3))
	require.NoError(t, bar.Finish())
	after := out.String()

	require.NoError(t, bar.Finish())
	require.NoError(t, bar.FinishWithMessage("again"))
	require.NoError(t, bar.Advance(1))

	assert.Equal(t, after, out.String())
	assert.True(t, bar.IsFinished())
	assert.Equal(t, uint64(10), bar.Position())
	assert.Equal(t, "job", bar.Message())
	assert.True(t, strings.HasSuffix(after, "job 10/10\n"))
}

func TestTerminalEraseMatchesPreviousLines(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(80), WithInterval(0))

	a, err := c.NewBar(50, WithMessage("a"), WithTemplate(simple))
	require.NoError(t, err)
	b, err := c.NewSpinner(WithMessage("b"), WithTemplate("{msg}\n  {pos} items"))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_ = a.Advance(1)
		_ = b.Advance(2)
	}

	writes := out.Writes()
	require.Greater(t, len(writes), 2)
	assert.Zero(t, strings.Count(writes[0], cursorPrevLine))
	for k := 1; k < len(writes); k++ {
		erased := strings.Count(writes[k], cursorPrevLine)
		assert.Equal(t, erased, strings.Count(writes[k], clearLine), "write %d", k)
		assert.Equal(t, strings.Count(writes[k-1], "\n"), erased, "write %d", k)
	}
	assert.Contains(t, writes[len(writes)-1], "a 20/50\nb\n  40 items\n")
}

func TestFinishedLineScrollsOff(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(80), WithInterval(0))

	a, err := c.NewBar(10, WithMessage("A"), WithTemplate(simple))
	require.NoError(t, err)
	b, err := c.NewBar(10, WithMessage("B"), WithTemplate(simple))
	require.NoError(t, err)

	require.NoError(t, a.Finish())
	require.NoError(t, b.Advance(1))

	writes := out.Writes()
	require.Len(t, writes, 4)
	assert.Equal(t, "A 0/10\n", writes[0])
	assert.Equal(t, cursorPrevLine+clearLine+"A 0/10\nB 0/10\n", writes[1])
	assert.Equal(t, strings.Repeat(cursorPrevLine+clearLine, 2)+"A 10/10\nB 0/10\n", writes[2])
	assert.Equal(t, cursorPrevLine+clearLine+"B 1/10\n", writes[3])
	assert.Equal(t, 1, c.Len())
}

func TestRedrawCoalescing(t *testing.T) {
	out := &recorder{}
	clock := newFakeClock()
	c := New(out, terminal(80), WithClock(clock.Now), WithInterval(100*time.Millisecond))

	bar, err := c.NewBar(100, WithMessage("x"), WithTemplate(simple))
	require.NoError(t, err)
	require.Len(t, out.Writes(), 1)

	clock.Add(100 * time.Millisecond)
	for i := 0; i < 50; i++ {
		_ = bar.Advance(1)
		clock.Add(time.Millisecond)
	}
	writes := out.Writes()
	require.Len(t, writes, 2, "one redraw per interval")
	assert.True(t, strings.HasSuffix(writes[1], "x 1/100\n"))

	clock.Add(100 * time.Millisecond)
	c.Draw(false)
	writes = out.Writes()
	require.Len(t, writes, 3)
	assert.True(t, strings.HasSuffix(writes[2], "x 50/100\n"), "latest state wins")

	c.Draw(false)
	assert.Len(t, out.Writes(), 3)
}

func TestTerminalLinesBoundedByWidth(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(10), WithInterval(0), WithUnicode(true))

	_, err := c.NewSpinner(WithMessage("日本語のとても長いメッセージ"), WithTemplate("{msg}"))
	require.NoError(t, err)
	_, err = c.NewSpinner(WithMessage(strings.Repeat("x", 30)), WithTemplate("{msg}"))
	require.NoError(t, err)

	last := out.Writes()[1]
	last = strings.ReplaceAll(last, cursorPrevLine+clearLine, "")
	lines := strings.Split(strings.TrimSuffix(last, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "日本語のと", lines[0])
	assert.Equal(t, strings.Repeat("x", 10), lines[1])
}

func TestUnknownWidthFallsBackToDefault(t *testing.T) {
	out := &recorder{}
	c := New(out, WithForceANSI(true), WithDefaultWidth(12))
	_, err := c.NewSpinner(WithMessage(strings.Repeat("y", 40)), WithTemplate("{msg}"))
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("y", 12)+"\n", out.Writes()[0])
	assert.False(t, c.Capability().IsTerminal)
}

func TestControlCharactersDoNotWidenLines(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(10), WithInterval(0))
	_, err := c.NewSpinner(WithMessage("\t"+strings.Repeat("x", 20)), WithTemplate("{msg}"))
	require.NoError(t, err)
	_, err = c.NewSpinner(WithMessage("\x1b[31mred\x1b[0m\r"), WithTemplate("{msg}"))
	require.NoError(t, err)

	assert.Equal(t, "        xx\n", out.Writes()[0])
	assert.Equal(t, cursorPrevLine+clearLine+"        xx\nred\n", out.Writes()[1])
}

// unsizedTerminal reports a terminal whose width query failed.
type unsizedTerminal struct{}

func (unsizedTerminal) Probe(io.Writer) (Capability, error) {
	return Capability{IsTerminal: true}, &ProbeError{Op: "query width", Err: errors.New("inappropriate ioctl for device")}
}

func TestCapabilityFailureFallsBackToDefaultWidth(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	out := &recorder{}
	c := New(out, WithProber(unsizedTerminal{}), WithDefaultWidth(12), WithInterval(0), WithLogger(zap.New(core)))

	sp, err := c.NewSpinner(WithMessage(strings.Repeat("y", 40)), WithTemplate("{msg}"))
	require.NoError(t, err)
	for range 5 {
		assert.NoError(t, sp.Advance(1))
	}
	assert.Equal(t, uint64(5), sp.Position())

	writes := out.Writes()
	require.Len(t, writes, 6)
	assert.Equal(t, strings.Repeat("y", 12)+"\n", writes[0])
	for _, w := range writes[1:] {
		assert.Equal(t, cursorPrevLine+clearLine+strings.Repeat("y", 12)+"\n", w)
	}

	caps := c.Capability()
	assert.True(t, caps.IsTerminal)
	assert.False(t, caps.HasWidth)
	assert.False(t, c.Degraded())

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.DebugLevel, entry.Level)
	assert.Equal(t, "output capability probe degraded", entry.Message)
	assert.Contains(t, entry.ContextMap()["error"], "query width")
}

func TestPlainOutputIsAppendOnly(t *testing.T) {
	var out bytes.Buffer
	clock := newFakeClock()
	c := New(&out, WithClock(clock.Now), WithHeartbeat(time.Second))

	bar, err := c.NewBar(10, WithMessage("file"), WithTemplate(simple))
	require.NoError(t, err)

	var snapshots []string
	step := func(fn func()) {
		fn()
		snapshots = append(snapshots, out.String())
	}
	step(func() { _ = bar.Advance(1) })
	step(func() { _ = bar.Advance(1) })
	step(func() { clock.Add(time.Second); _ = bar.Advance(1) })
	step(func() { _ = bar.Advance(1) })
	step(func() { clock.Add(500 * time.Millisecond); _ = bar.Advance(1) })
	step(func() { _ = bar.Finish() })
	step(func() { c.Draw(true) })

	for i := 1; i < len(snapshots); i++ {
		assert.True(t, strings.HasPrefix(snapshots[i], snapshots[i-1]), "snapshot %d", i)
	}
	final := out.String()
	assert.NotContains(t, final, "\x1b")
	assert.NotContains(t, final, "\r")
	assert.Equal(t, "file 3/10\nfile 10/10\n", final)
}

func TestPlainWithoutHeartbeatPrintsOnlyFinish(t *testing.T) {
	var out bytes.Buffer
	c := New(&out, WithHeartbeat(0))

	a, err := c.NewBar(4, WithMessage("a"), WithTemplate(simple))
	require.NoError(t, err)
	b, err := c.NewBar(4, WithMessage("b"), WithTemplate(simple))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_ = a.Advance(1)
		_ = b.Advance(1)
	}
	assert.Empty(t, out.String())

	require.NoError(t, b.Finish())
	assert.Equal(t, "b 4/4\n", out.String())

	require.NoError(t, c.Close())
	assert.Equal(t, "b 4/4\na 4/4\n", out.String())
}

func TestGuardErasesAndRepaints(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(80))
	_, err := c.NewBar(10, WithMessage("a"), WithTemplate(simple))
	require.NoError(t, err)

	err = c.Suspend(func(w io.Writer) error {
		_, err := io.WriteString(w, "hello\n")
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"a 0/10\n",
		cursorPrevLine + clearLine,
		"hello\n",
		"a 0/10\n",
	}, out.Writes())
}

func TestGuardTerminatesOpenLine(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(80))
	_, err := c.NewBar(10, WithMessage("a"), WithTemplate(simple))
	require.NoError(t, err)

	g := c.Acquire()
	_, err = g.Write([]byte("no newline"))
	require.NoError(t, err)
	g.Release()
	g.Release()

	_, err = g.Write([]byte("late"))
	assert.Error(t, err)
	assert.Equal(t, "a 0/10\n"+cursorPrevLine+clearLine+"no newline\na 0/10\n", out.String())
}

func TestGuardPlainPassThrough(t *testing.T) {
	out := &recorder{}
	c := New(out)
	_, err := c.NewBar(10, WithMessage("a"), WithTemplate(simple))
	require.NoError(t, err)

	n, err := c.Writer().Write([]byte("log line\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, []string{"log line\n"}, out.Writes())
}

func TestGuardedWritesNeverInterleave(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(80), WithInterval(0))
	logLine := regexp.MustCompile(`^LOG-\d+-\d+\n$`)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		bar, err := c.NewBar(200, WithMessage(fmt.Sprintf("bar-%d", w)), WithTemplate(simple))
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = bar.Advance(1)
			}
		}()
	}
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lw := c.Writer()
			for i := 0; i < 100; i++ {
				_, _ = fmt.Fprintf(lw, "LOG-%d-%d\n", w, i)
			}
		}()
	}
	wg.Wait()

	logs := 0
	for _, p := range out.Writes() {
		if strings.Contains(p, "LOG") {
			assert.Regexp(t, logLine, p)
			logs++
		}
	}
	assert.Equal(t, 200, logs)
}

func TestWriteFailureDegradesOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	fw := &failWriter{}
	c := New(fw, terminal(80), WithInterval(0), WithLogger(zap.New(core)))

	bar, err := c.NewBar(10)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.NoError(t, bar.Advance(1))
	}
	assert.NoError(t, bar.Finish())
	c.Draw(true)

	assert.Equal(t, 1, fw.calls)
	assert.True(t, c.Degraded())
	var we *WriteError
	require.ErrorAs(t, c.Err(), &we)
	assert.ErrorIs(t, c.Err(), errBroken)
	assert.Equal(t, uint64(10), bar.Position())
	assert.Equal(t, 1, logs.FilterMessage("progress output failed, rendering disabled").Len())

	assert.ErrorIs(t, c.Close(), errBroken)
}

func TestClosedCoordinatorRejectsTrackers(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(80), WithInterval(0))
	bar, err := c.NewBar(10)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	before := len(out.Writes())

	_, err = c.NewBar(10)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.NewSpinner()
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, bar.Advance(5))
	assert.Equal(t, uint64(5), bar.Position())
	assert.False(t, bar.Alive())
	assert.Len(t, out.Writes(), before)
}

func TestDetachRemovesLineWithoutFinalRender(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(80), WithInterval(0))
	a, err := c.NewBar(10, WithMessage("a"), WithTemplate(simple))
	require.NoError(t, err)
	b, err := c.NewBar(10, WithMessage("b"), WithTemplate(simple))
	require.NoError(t, err)

	require.NoError(t, a.Advance(2))
	require.NoError(t, a.Detach())

	writes := out.Writes()
	assert.Equal(t, strings.Repeat(cursorPrevLine+clearLine, 2)+"b 0/10\n", writes[len(writes)-1])
	assert.ErrorIs(t, a.Advance(1), ErrDetached)
	assert.ErrorIs(t, a.Finish(), ErrDetached)
	assert.ErrorIs(t, a.Detach(), ErrDetached)
	assert.False(t, a.Alive())
	assert.True(t, b.Alive())
	assert.Equal(t, 1, c.Len())
}

func TestAbandonedTrackerIsPruned(t *testing.T) {
	c := New(&bytes.Buffer{})
	func() {
		bar, err := c.NewBar(10)
		require.NoError(t, err)
		_ = bar.Advance(1)
	}()

	assert.Eventually(t, func() bool {
		runtime.GC()
		return c.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHiddenTrackersAndTargets(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(80), WithInterval(0))
	a, err := c.NewBar(10, WithMessage("a"), WithTemplate(simple), WithHidden())
	require.NoError(t, err)
	assert.Empty(t, out.Writes())
	assert.False(t, a.IsVisible())

	require.NoError(t, a.SetVisible(true))
	assert.Equal(t, []string{"a 0/10\n"}, out.Writes())

	h := NewWithTarget(Hidden())
	bar, err := h.NewBar(3)
	require.NoError(t, err)
	require.NoError(t, bar.Finish())
	called := false
	require.NoError(t, h.Suspend(func(w io.Writer) error {
		called = true
		_, err := w.Write([]byte("dropped"))
		return err
	}))
	assert.True(t, called)
	require.NoError(t, h.Close())
}

func TestTickerDrawsWithoutUpdates(t *testing.T) {
	out := &recorder{}
	c := New(out, terminal(80), WithInterval(5*time.Millisecond))
	_, err := c.NewSpinner(WithMessage("idle"), WithTemplate("{spinner} {msg}"))
	require.NoError(t, err)

	c.StartTicker()
	c.StartTicker()
	assert.Eventually(t, func() bool {
		return len(out.Writes()) >= 4
	}, 2*time.Second, 5*time.Millisecond)
	c.StopTicker()
	c.StopTicker()

	writes := out.Writes()
	assert.NotEqual(t, writes[1], writes[2], "spinner frame advances")
	require.NoError(t, c.Close())
}

func TestSetLoggerAfterConstruction(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := New(&failWriter{}, terminal(80))
	c.SetLogger(zap.New(core))
	c.SetLogger(nil)
	c.SetLogger(zap.New(core))

	_, err := c.NewBar(1)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Len())
}
