package multibar

import (
	"time"

	"go.uber.org/zap"

	"github.com/sigman78/multibar/internal/termcap"
	"github.com/sigman78/multibar/internal/textwidth"
)

// Defaults for Coordinator options.
const (
	DefaultInterval  = 100 * time.Millisecond
	DefaultHeartbeat = 5 * time.Second
)

type config struct {
	interval     time.Duration
	heartbeat    time.Duration
	forceANSI    *bool
	prober       termcap.Prober
	now          func() time.Time
	logger       *zap.Logger
	width        textwidth.Calculator
	defaultWidth int
}

func defaultConfig() config {
	return config{
		interval:     DefaultInterval,
		heartbeat:    DefaultHeartbeat,
		prober:       termcap.System{},
		now:          time.Now,
		logger:       zap.NewNop(),
		width:        textwidth.Default(),
		defaultWidth: termcap.DefaultWidth,
	}
}

// Option configures a Coordinator.
type Option func(*config)

// WithInterval sets the minimum time between two unforced terminal redraws.
func WithInterval(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.interval = d
		}
	}
}

// WithHeartbeat sets how often live trackers are printed when the output is
// not a terminal. Zero disables periodic lines; only finished trackers print.
func WithHeartbeat(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.heartbeat = d
		}
	}
}

// WithForceANSI overrides terminal detection: true always uses in-place
// redraws, false never does.
func WithForceANSI(force bool) Option {
	return func(c *config) {
		c.forceANSI = &force
	}
}

// WithProber replaces the platform capability probe.
func WithProber(p termcap.Prober) Option {
	return func(c *config) {
		if p != nil {
			c.prober = p
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for rendering diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUnicode selects the East-Asian-width aware width calculation (true) or
// plain code point counting (false), overriding the build default.
func WithUnicode(enabled bool) Option {
	return func(c *config) {
		c.width = textwidth.Calculator{Unicode: enabled}
	}
}

// WithDefaultWidth sets the column budget used when a terminal's width is
// unknown.
func WithDefaultWidth(cols int) Option {
	return func(c *config) {
		if cols > 0 {
			c.defaultWidth = cols
		}
	}
}

type trackerConfig struct {
	length    uint64
	hasLength bool
	message   string
	format    Formatter
	hidden    bool
}

// TrackerOption configures a Tracker at creation.
type TrackerOption func(*trackerConfig)

// WithLength sets a known length, turning the tracker into a bar.
func WithLength(n uint64) TrackerOption {
	return func(c *trackerConfig) {
		c.length, c.hasLength = n, true
	}
}

// WithMessage sets the initial message.
func WithMessage(msg string) TrackerOption {
	return func(c *trackerConfig) {
		c.message = msg
	}
}

// WithTemplate sets the display template, see Template.
func WithTemplate(src string) TrackerOption {
	return func(c *trackerConfig) {
		c.format = ParseTemplate(src)
	}
}

// WithFormatter sets a custom formatter.
func WithFormatter(f Formatter) TrackerOption {
	return func(c *trackerConfig) {
		if f != nil {
			c.format = f
		}
	}
}

// WithHidden creates the tracker invisible; see Tracker.SetVisible.
func WithHidden() TrackerOption {
	return func(c *trackerConfig) {
		c.hidden = true
	}
}
