package multibar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Snapshot is a read-only copy of a tracker's state handed to a Formatter.
type Snapshot struct {
	Position  uint64
	Length    uint64
	HasLength bool // false for spinners
	Message   string
	Elapsed   time.Duration
	Tick      uint64 // animation frame counter
	Finished  bool
}

// Formatter turns a snapshot into display text. The result may contain
// newlines; every resulting line is width-bounded separately in terminal mode.
type Formatter interface {
	Format(s Snapshot) string
}

// FormatterFunc adapts a function to the Formatter interface.
type FormatterFunc func(s Snapshot) string

// Format implements Formatter.
func (f FormatterFunc) Format(s Snapshot) string { return f(s) }

// Default templates used when a tracker is created without one.
const (
	DefaultBarTemplate     = "{msg} {bar} {pos}/{len}"
	DefaultSpinnerTemplate = "{spinner} {msg} {pos}"
)

const defaultBarSize = 20

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type partKind int

const (
	partText partKind = iota
	partMessage
	partPos
	partLen
	partBytes
	partTotalBytes
	partBytesPerSec
	partElapsed
	partEta
	partPercent
	partBar
	partSpinner
	partStateEmoji
)

type part struct {
	kind partKind
	text string
	size int
}

// Template is a Formatter built from a string with {tag} placeholders:
//
//	{msg} {message}             message
//	{pos} {len} {total}         position and length
//	{bytes} {total_bytes}       position and length in IEC bytes
//	{bytes_per_sec}             average speed
//	{elapsed} {elapsed_precise} elapsed time, H:MM:SS
//	{eta}                       estimated time left, H:MM:SS
//	{percent}                   completion percentage
//	{bar} {barN}                bar, 20 or N cells wide
//	{spinner}                   animated spinner frame
//	{state_emoji}               new, in progress or done
//
// Doubled braces are literal braces. Unknown tags are kept as written.
type Template struct {
	src   string
	parts []part
}

// ParseTemplate parses src. Parsing never fails; malformed tags become text.
func ParseTemplate(src string) *Template {
	t := &Template{src: src}
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			t.parts = append(t.parts, part{kind: partText, text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch {
		case ch == '{' && i+1 < len(src) && src[i+1] == '{':
			text.WriteByte('{')
			i++
		case ch == '}' && i+1 < len(src) && src[i+1] == '}':
			text.WriteByte('}')
			i++
		case ch == '{':
			end := strings.IndexByte(src[i+1:], '}')
			if end < 0 {
				text.WriteString(src[i:])
				i = len(src)
				continue
			}
			tag := src[i+1 : i+1+end]
			if p, ok := parseTag(tag); ok {
				flush()
				t.parts = append(t.parts, p)
			} else {
				text.WriteString("{" + tag + "}")
			}
			i += end + 1
		default:
			text.WriteByte(ch)
		}
	}
	flush()
	return t
}

func parseTag(tag string) (part, bool) {
	switch tag {
	case "msg", "message":
		return part{kind: partMessage}, true
	case "pos":
		return part{kind: partPos}, true
	case "len", "total":
		return part{kind: partLen}, true
	case "bytes":
		return part{kind: partBytes}, true
	case "total_bytes":
		return part{kind: partTotalBytes}, true
	case "bytes_per_sec", "bytes_per_second":
		return part{kind: partBytesPerSec}, true
	case "elapsed", "elapsed_precise":
		return part{kind: partElapsed}, true
	case "eta":
		return part{kind: partEta}, true
	case "percent":
		return part{kind: partPercent}, true
	case "spinner":
		return part{kind: partSpinner}, true
	case "state_emoji":
		return part{kind: partStateEmoji}, true
	}
	if rest, ok := strings.CutPrefix(tag, "bar"); ok {
		if rest == "" {
			return part{kind: partBar, size: defaultBarSize}, true
		}
		if n, err := strconv.Atoi(rest); err == nil && n > 0 {
			return part{kind: partBar, size: n}, true
		}
	}
	return part{}, false
}

// String returns the source the template was parsed from.
func (t *Template) String() string { return t.src }

// Format implements Formatter.
func (t *Template) Format(s Snapshot) string {
	var b strings.Builder
	for _, p := range t.parts {
		switch p.kind {
		case partText:
			b.WriteString(p.text)
		case partMessage:
			b.WriteString(s.Message)
		case partPos:
			b.WriteString(strconv.FormatUint(s.Position, 10))
		case partLen:
			if s.HasLength {
				b.WriteString(strconv.FormatUint(s.Length, 10))
			} else {
				b.WriteByte('?')
			}
		case partBytes:
			b.WriteString(humanize.IBytes(s.Position))
		case partTotalBytes:
			if s.HasLength {
				b.WriteString(humanize.IBytes(s.Length))
			} else {
				b.WriteByte('?')
			}
		case partBytesPerSec:
			b.WriteString(humanize.IBytes(uint64(perSecond(s))) + "/s")
		case partElapsed:
			b.WriteString(clock(s.Elapsed))
		case partEta:
			b.WriteString(eta(s))
		case partPercent:
			if s.HasLength {
				fmt.Fprintf(&b, "%3d%%", percent(s))
			} else {
				b.WriteString("  ?%")
			}
		case partBar:
			writeBar(&b, s, p.size)
		case partSpinner:
			if s.Finished {
				b.WriteString("✓")
			} else {
				b.WriteString(spinnerFrames[s.Tick%uint64(len(spinnerFrames))])
			}
		case partStateEmoji:
			switch {
			case s.Finished || (s.HasLength && s.Position >= s.Length):
				b.WriteString("✅")
			case s.Position == 0:
				b.WriteString("🆕")
			default:
				b.WriteString("⏳")
			}
		}
	}
	return b.String()
}

func perSecond(s Snapshot) float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Position) / secs
}

func percent(s Snapshot) int {
	if s.Length == 0 || s.Position >= s.Length {
		return 100
	}
	return int(float64(s.Position) / float64(s.Length) * 100)
}

func eta(s Snapshot) string {
	if s.Finished {
		return clock(0)
	}
	speed := perSecond(s)
	if !s.HasLength || s.Position == 0 || speed <= 0 {
		return "?"
	}
	if s.Position >= s.Length {
		return clock(0)
	}
	left := float64(s.Length-s.Position) / speed
	return clock(time.Duration(left * float64(time.Second)))
}

// clock formats d as H:MM:SS.
func clock(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

func writeBar(b *strings.Builder, s Snapshot, size int) {
	b.WriteByte('[')
	switch {
	case s.HasLength:
		filled := size
		if s.Length > 0 {
			filled = int(float64(min(s.Position, s.Length)) / float64(s.Length) * float64(size))
		}
		b.WriteString(strings.Repeat("=", filled))
		b.WriteString(strings.Repeat(" ", size-filled))
	case s.Finished:
		b.WriteString(strings.Repeat("=", size))
	default:
		head := int(s.Tick % uint64(size))
		b.WriteString(strings.Repeat(" ", head))
		b.WriteByte('=')
		b.WriteString(strings.Repeat(" ", size-head-1))
	}
	b.WriteByte(']')
}
