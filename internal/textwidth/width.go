// Package textwidth measures and truncates text in terminal display cells.
//
// With Unicode enabled, wide East-Asian glyphs count as two cells and combining
// marks as zero, following grapheme cluster boundaries. Without it every code
// point counts as one cell, so wide scripts may misalign.
package textwidth

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// TabWidth is the distance between tab stops used by Sanitize.
const TabWidth = 8

// Calculator computes display widths. The zero value counts code points.
type Calculator struct {
	Unicode bool
}

// Default returns the calculator selected by the build tags.
func Default() Calculator {
	return Calculator{Unicode: UnicodeEnabled}
}

// Width returns the number of cells s occupies. It never fails.
func (c Calculator) Width(s string) int {
	if !c.Unicode {
		return utf8.RuneCountInString(s)
	}
	return uniseg.StringWidth(s)
}

// Truncate cuts s from the end so that it fits into max cells. A wide glyph
// that would straddle the limit is dropped as a whole.
func (c Calculator) Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if !c.Unicode {
		n := 0
		for i := range s {
			if n == max {
				return s[:i]
			}
			n++
		}
		return s
	}

	used := 0
	rest := s
	state := -1
	var cluster string
	var w int
	for len(rest) > 0 {
		cluster, rest, w, state = uniseg.FirstGraphemeClusterInString(rest, state)
		if used+w > max {
			return s[:len(s)-len(rest)-len(cluster)]
		}
		used += w
	}
	return s
}

// Sanitize returns s as a single line whose width on screen is its measured
// width: tabs become spaces up to the next tab stop, CSI escape sequences
// are dropped along with every other control character, newlines included.
func (c Calculator) Sanitize(s string) string {
	if strings.IndexFunc(s, unicode.IsControl) < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '\t':
			b.WriteString(strings.Repeat(" ", TabWidth-c.Width(b.String())%TabWidth))
		case r == 0x1b && i+1 < len(s) && s[i+1] == '[':
			// Parameter and intermediate bytes up to the final byte.
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}
			i = min(j+1, len(s))
			continue
		case unicode.IsControl(r):
		default:
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}
