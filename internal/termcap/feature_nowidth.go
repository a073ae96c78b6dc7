//go:build multibar_nowidth

package termcap

// WidthEnabled reports whether terminal width is queried from the console.
// Build with the multibar_nowidth tag to always report an unknown width.
const WidthEnabled = false
