//go:build multibar_nounicode

package textwidth

// UnicodeEnabled reports whether the East-Asian-width aware calculator is the
// default. Build with the multibar_nounicode tag to fall back to code points.
const UnicodeEnabled = false
